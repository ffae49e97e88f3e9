package tunstack

import "errors"

// ValidatorFlags controls optional, stricter validation rules.
type ValidatorFlags uint8

const (
	// ValidateEvilBit rejects packets with the evil bit (RFC 3514) set.
	ValidateEvilBit ValidatorFlags = 1 << iota
)

var (
	ErrShortIPv4    = errors.New("ipv4: total length exceeds frame")
	ErrBadIPv4TL    = errors.New("ipv4: total length smaller than header")
	ErrBadIPv4IHL   = errors.New("ipv4: IHL field smaller than 5")
	ErrBadIPVersion = errors.New("ipv4: bad version field")
	ErrEvilPacket   = errors.New("ipv4: evil bit set")
	ErrShortTCP     = errors.New("tcp: data offset exceeds frame")
	ErrBadTCPOffset = errors.New("tcp: data offset smaller than header")
	ErrZeroSrcPort  = errors.New("tcp: zero source port")
	ErrZeroDstPort  = errors.New("tcp: zero destination port")
)

// Validator accumulates errors found while checking a frame's fixed-size
// fields against the buffer backing it. The zero value is ready to use.
type Validator struct {
	flags ValidatorFlags
	errs  []error
}

// SetFlags configures optional validation rules for subsequent calls.
func (v *Validator) SetFlags(f ValidatorFlags) { v.flags = f }

// Flags returns the currently configured validation rules.
func (v *Validator) Flags() ValidatorFlags { return v.flags }

// AddError appends err to the accumulated validation errors.
func (v *Validator) AddError(err error) { v.errs = append(v.errs, err) }

// AddBitPosErr appends err. The bit offset and length of the offending
// header field are accepted but not recorded.
func (v *Validator) AddBitPosErr(bitOffset, bitLen int, err error) {
	v.errs = append(v.errs, err)
}

// Err joins and returns all errors accumulated so far, or nil if none.
func (v *Validator) Err() error {
	switch len(v.errs) {
	case 0:
		return nil
	case 1:
		return v.errs[0]
	default:
		return errors.Join(v.errs...)
	}
}

// ErrPop returns Err and resets the accumulated error list.
func (v *Validator) ErrPop() error {
	err := v.Err()
	v.errs = v.errs[:0]
	return err
}

// Reset discards all accumulated errors, readying the Validator for reuse.
func (v *Validator) Reset() { v.errs = v.errs[:0] }
