package speech

// Player starts and stops playback of resolved slots. Start is
// asynchronous: completion is reported back through the sequencer's
// OnPlaybackEnded, never synchronously from inside Start. Stop rewinds
// to the beginning and is a no-op for anything not playing.
type Player interface {
	Start(handle *AudioHandle) error
	Stop(turnID string, index int)
}

// NopPlayer discards all playback. Used when a chat has read-aloud
// permanently off and in tests that only exercise bookkeeping.
type NopPlayer struct{}

func (NopPlayer) Start(*AudioHandle) error { return nil }
func (NopPlayer) Stop(string, int)         {}
