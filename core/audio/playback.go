package audio

// Playback is a handle to one in-flight clip on a playback device.
//
// The handle settles exactly once: either the clip drains naturally, the
// device fails, or Stop is called. Done is closed on settlement and Err is
// only meaningful afterwards. Stopping is not an error, Err returns nil for
// a stopped playback.
type Playback interface {
	// Done is closed once the playback has settled and its device-side
	// resources have been scheduled for release.
	Done() <-chan struct{}

	// Err reports the failure that ended the playback, if any.
	Err() error

	// Stop ends the playback early and releases its resources. It is safe
	// to call Stop multiple times and after natural completion, the
	// underlying release runs at most once.
	Stop()
}

// Player starts playback of decoded PCM clips. Implementations own at most
// one active clip, starting a new one stops whatever is currently playing.
type Player interface {
	Play(pcm []byte, encoding EncodingInfo) (Playback, error)
	Close() error
}
