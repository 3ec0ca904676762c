package encoding

// SoftwareEncoder is the H.264 encoder used whenever hardware is not chosen.
const SoftwareEncoder = "libx264"

// EncoderClass is the kind of encoder a plan asks for.
type EncoderClass int

const (
	HardwarePreferred EncoderClass = iota
	SoftwareOnly
)

func (c EncoderClass) String() string {
	if c == SoftwareOnly {
		return "SOFTWARE_ONLY"
	}
	return "HARDWARE_PREFERRED"
}

// CapabilityProvider reports the hardware H.264 encoder available on this
// host, if any.
type CapabilityProvider interface {
	HardwareEncoder() (string, bool)
}

// StaticCapabilities is a CapabilityProvider with a fixed answer.
type StaticCapabilities string

// HardwareEncoder implements CapabilityProvider.
func (s StaticCapabilities) HardwareEncoder() (string, bool) {
	return string(s), s != ""
}

// Selection is the outcome of the selection policy.
type Selection struct {
	Class   EncoderClass
	Encoder string
}

func (s Selection) String() string {
	return s.Class.String() + ":" + s.Encoder
}

// Hardware reports whether the selected encoder is a hardware one.
func (s Selection) Hardware() bool {
	return s.Encoder != "" && s.Encoder != SoftwareEncoder
}

// Selector maps alignment onto an encoder.
type Selector struct {
	Capabilities CapabilityProvider
}

// Select prefers hardware only for geometry that sits exactly on the block
// grid. The class never depends on the host; the encoder name does.
func (s Selector) Select(isAligned bool) Selection {
	if !isAligned {
		return Selection{Class: SoftwareOnly, Encoder: SoftwareEncoder}
	}

	sel := Selection{Class: HardwarePreferred, Encoder: SoftwareEncoder}
	if s.Capabilities != nil {
		if enc, ok := s.Capabilities.HardwareEncoder(); ok {
			sel.Encoder = enc
		}
	}
	return sel
}

// Software is the selection used when geometry is unknown.
func Software() Selection {
	return Selection{Class: SoftwareOnly, Encoder: SoftwareEncoder}
}
