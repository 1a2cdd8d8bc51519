package listener

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAddAndGetProducerBySSRC(t *testing.T) {
	l := New()
	ok := l.AddProducer("p1", "mid1", []Encoding{{SSRC: 100, RTXSSRC: 101}})
	require.True(t, ok)

	p, ok := l.GetProducer(100, "", "")
	require.True(t, ok)
	require.Equal(t, "p1", p)

	p, ok = l.GetProducer(101, "", "")
	require.True(t, ok)
	require.Equal(t, "p1", p)
}

func TestAddProducerSSRCCollisionRollsBack(t *testing.T) {
	l := New()
	require.True(t, l.AddProducer("p1", "mid1", []Encoding{{SSRC: 100}}))
	ok := l.AddProducer("p2", "mid2", []Encoding{{SSRC: 200}, {SSRC: 100}})
	require.False(t, ok)

	_, ok = l.GetProducer(200, "", "")
	require.False(t, ok, "partial insert for p2 must have been rolled back")
	p, ok := l.GetProducer(100, "", "")
	require.True(t, ok)
	require.Equal(t, "p1", p)
}

func TestGetProducerResolvesViaMidThenCachesSSRC(t *testing.T) {
	l := New()
	require.True(t, l.AddProducer("p1", "mid1", []Encoding{{SSRC: 100}}))

	p, ok := l.GetProducer(999, "mid1", "")
	require.True(t, ok)
	require.Equal(t, "p1", p)

	// second lookup should now hit the ssrc fast path directly
	p, ok = l.GetProducer(999, "", "")
	require.True(t, ok)
	require.Equal(t, "p1", p)
}

func TestGetProducerResolvesViaRid(t *testing.T) {
	l := New()
	require.True(t, l.AddProducer("p1", "", []Encoding{{SSRC: 100, RID: "r1"}}))

	p, ok := l.GetProducer(999, "", "r1")
	require.True(t, ok)
	require.Equal(t, "p1", p)
}

func TestAddProducerRidCollisionToleratedWithMid(t *testing.T) {
	l := New()
	require.True(t, l.AddProducer("p1", "", []Encoding{{SSRC: 100, RID: "r1"}}))
	ok := l.AddProducer("p2", "mid2", []Encoding{{SSRC: 200, RID: "r1"}})
	require.True(t, ok, "rid collision tolerated when mid is present")
}

func TestAddProducerRidCollisionRejectedWithoutMid(t *testing.T) {
	l := New()
	require.True(t, l.AddProducer("p1", "", []Encoding{{SSRC: 100, RID: "r1"}}))
	ok := l.AddProducer("p2", "", []Encoding{{SSRC: 200, RID: "r1"}})
	require.False(t, ok)

	_, ok = l.GetProducer(200, "", "")
	require.False(t, ok)
}

func TestRemoveProducerClearsAllTables(t *testing.T) {
	l := New()
	require.True(t, l.AddProducer("p1", "mid1", []Encoding{{SSRC: 100, RTXSSRC: 101, RID: "r1"}}))
	l.RemoveProducer("p1")

	_, ok := l.GetProducer(100, "", "")
	require.False(t, ok)
	_, ok = l.GetProducer(999, "mid1", "")
	require.False(t, ok)
	_, ok = l.GetProducer(999, "", "r1")
	require.False(t, ok)
}
