//go:build !linux || tinygo

package tunnel

import "errors"

// Tunnel is unavailable outside Linux; this stack has no other TUN backend.
type Tunnel struct{}

func Open(name string) (*Tunnel, error) { return nil, errors.ErrUnsupported }

func (t *Tunnel) Configure(addrCIDR, peer string) error { return errors.ErrUnsupported }
func (t *Tunnel) Read(b []byte) (int, error)            { return 0, errors.ErrUnsupported }
func (t *Tunnel) Write(b []byte) (int, error)            { return 0, errors.ErrUnsupported }
func (t *Tunnel) Close() error                           { return errors.ErrUnsupported }
func (t *Tunnel) Poll(timeoutMs int) (bool, error)       { return false, errors.ErrUnsupported }
