package talk_test

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/talkbridge/mediabridge/internal/ids"
	"github.com/talkbridge/mediabridge/internal/talk"
)

type fakeAudio struct{ vol float64 }

func (f *fakeAudio) SetVolume(v float64) { f.vol = v }

type fakeVideo struct{ alpha float64 }

func (f *fakeVideo) SetAlpha(a float64) { f.alpha = a }

type fakeMixer struct {
	linked map[ids.StreamId]*fakeAudio
}

func newFakeMixer() *fakeMixer { return &fakeMixer{linked: map[ids.StreamId]*fakeAudio{}} }

func (m *fakeMixer) LinkStream(id ids.StreamId) (talk.AudioSource, error) {
	a := &fakeAudio{}
	m.linked[id] = a
	return a, nil
}
func (m *fakeMixer) UnlinkStream(id ids.StreamId) { delete(m.linked, id) }

type fakeCompositor struct {
	linked map[ids.StreamId]*fakeVideo
	order  []ids.StreamId
}

func newFakeCompositor() *fakeCompositor {
	return &fakeCompositor{linked: map[ids.StreamId]*fakeVideo{}}
}

func (c *fakeCompositor) LinkStream(id ids.StreamId) (talk.VideoSource, error) {
	v := &fakeVideo{}
	c.linked[id] = v
	return v, nil
}
func (c *fakeCompositor) UnlinkStream(id ids.StreamId) { delete(c.linked, id) }
func (c *fakeCompositor) SetVisibleOrder(order []ids.StreamId) {
	c.order = append([]ids.StreamId(nil), order...)
}

func TestAddRemoveRegistryMatchesMixerPads(t *testing.T) {
	mixer := newFakeMixer()
	comp := newFakeCompositor()
	tk := talk.New(mixer, comp, 9)

	p := uuid.New()
	id := ids.NewStreamId(p, ids.Camera)

	require.NoError(t, tk.AddStream(id, "Alice", talk.Status{HasAudio: true, HasVideo: true}))
	require.True(t, tk.ContainsStream(id))
	require.Contains(t, mixer.linked, id)
	require.Contains(t, comp.linked, id)

	tk.RemoveStream(id)
	require.False(t, tk.ContainsStream(id))
	require.NotContains(t, mixer.linked, id)
	require.NotContains(t, comp.linked, id)
}

func TestAddShowHideRemoveAddIdempotent(t *testing.T) {
	mixer := newFakeMixer()
	comp := newFakeCompositor()
	tk := talk.New(mixer, comp, 9)

	p := uuid.New()
	id := ids.NewStreamId(p, ids.Camera)

	require.NoError(t, tk.AddStream(id, "Alice", talk.Status{}))
	require.NoError(t, tk.ShowStream(id))
	require.NoError(t, tk.HideStream(id))
	tk.RemoveStream(id)
	require.NoError(t, tk.AddStream(id, "Alice", talk.Status{}))

	require.True(t, tk.ContainsStream(id))
	require.False(t, tk.IsAnyVisible(p))
}

func TestSpeakerPromotionScenario(t *testing.T) {
	mixer := newFakeMixer()
	comp := newFakeCompositor()
	tk := talk.New(mixer, comp, 9)

	p1 := uuid.New()
	p2 := uuid.New()

	p1cam := ids.NewStreamId(p1, ids.Camera)
	p2cam := ids.NewStreamId(p2, ids.Camera)
	p2screen := ids.NewStreamId(p2, ids.ScreenCapture)

	require.NoError(t, tk.AddStream(p1cam, "P1", talk.Status{HasAudio: true, HasVideo: true}))
	require.NoError(t, tk.AddStream(p2cam, "P2", talk.Status{HasAudio: true, HasVideo: true}))
	require.NoError(t, tk.AddStream(p2screen, "P2 screen", talk.Status{HasAudio: false, HasVideo: true}))

	require.NoError(t, tk.ShowStream(p1cam))
	require.NoError(t, tk.ShowStream(p2cam))
	require.NoError(t, tk.ShowStream(p2screen))

	tk.SetSpeaker(p2)

	got := tk.Visibles()
	want := []ids.StreamId{p2screen, p2cam, p1cam}
	require.Equal(t, want, got)
}

func TestConsentlikeCapEviction(t *testing.T) {
	mixer := newFakeMixer()
	comp := newFakeCompositor()
	tk := talk.New(mixer, comp, 1)

	p1 := uuid.New()
	p2 := uuid.New()
	s1 := ids.NewStreamId(p1, ids.Camera)
	s2 := ids.NewStreamId(p2, ids.ScreenCapture)

	require.NoError(t, tk.AddStream(s1, "P1", talk.Status{HasVideo: true}))
	require.NoError(t, tk.AddStream(s2, "P2", talk.Status{HasVideo: true}))

	require.NoError(t, tk.ShowStream(s1))
	require.NoError(t, tk.ShowStream(s2)) // screen evicts camera at cap

	require.Equal(t, []ids.StreamId{s2}, tk.Visibles())
}
