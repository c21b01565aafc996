package cnst

import "time"

// TokenValidity is the nominal lifetime of exchanged session cookies.
// The renewal deadline is validity divided by RenewFactor, matching the
// scheduling the upstream app is observed to use.
const (
	TokenValidity = 432000 * time.Second // five days
	RenewFactor   = 0.8
)

// Request pipeline tuning. The upstream service tolerates only a low,
// strictly sequential request rate and occasionally answers 400 to a call
// that succeeds when replayed verbatim.
const (
	RequestSpacing      = 500 * time.Millisecond
	MaxRedirects        = 30
	BehaviorsRetryCount = 3
)

// Command batching windows.
const (
	BatchDebounce        = 500 * time.Millisecond
	SpeechCooldown       = 1000 * time.Millisecond
	SequenceNodeCooldown = 2000 * time.Millisecond
	// PerCharacterDelay approximates speech duration so the next
	// automation is not submitted mid-utterance.
	PerCharacterDelay = 100 * time.Millisecond
)

// Supported versions of the serialized session blob.
const (
	SerializeVersion    = 7
	SerializeVersionMin = 5
)

// ThisDeviceName is the account name Amazon assigns to the pseudo device
// representing this app registration; used to infer the owning customer id.
const ThisDeviceName = "This Device"
