package suggest

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	supermaven "github.com/Paranoid-AF/supermaven"
)

// fixedSource is a StateSource whose current id is set by the test.
type fixedSource struct {
	id supermaven.StateID
}

func (f *fixedSource) CurrentID() supermaven.StateID { return f.id }

func response(id supermaven.StateID, items ...supermaven.ResponseItem) *supermaven.Response {
	return &supermaven.Response{StateID: id, Items: items}
}

func TestFeedBarrierThenEnd(t *testing.T) {
	d := NewDecoder(&fixedSource{id: 3})

	out, err := d.Feed(response(3,
		supermaven.TextItem{Text: "foo"},
		supermaven.BarrierItem{},
		supermaven.TextItem{Text: "bar"},
		supermaven.EndItem{},
	))
	require.NoError(t, err)
	require.Len(t, out, 2)

	assert.False(t, out[0].Final)
	assert.Equal(t, "foo", out[0].Text())
	assert.True(t, out[1].Final)
	assert.Equal(t, "foobar", out[1].Text())
	assert.Equal(t, supermaven.StateID(3), out[1].StateID)
}

func TestFeedDeletion(t *testing.T) {
	d := NewDecoder(&fixedSource{id: 1})

	out, err := d.Feed(response(1,
		supermaven.TextItem{Text: "hello"},
		supermaven.DelItem{Text: "lo"},
		supermaven.TextItem{Text: "p"},
		supermaven.EndItem{},
	))
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "help", out[0].Text())
	assert.Empty(t, out[0].Deleted())

	ops := out[0].Ops
	require.Len(t, ops, 3)
	assert.Equal(t, OpInsert, ops[0].Kind)
	assert.Equal(t, OpDelete, ops[1].Kind)
	assert.Equal(t, "lo", ops[1].Text)
	assert.Equal(t, OpInsert, ops[2].Kind)
}

func TestFeedDeletionSpillsIntoBuffer(t *testing.T) {
	d := NewDecoder(&fixedSource{id: 1})

	out, err := d.Feed(response(1,
		supermaven.DelItem{Text: "ret"},
		supermaven.TextItem{Text: "x"},
		supermaven.DelItem{Text: "ux"},
		supermaven.TextItem{Text: "return nil"},
		supermaven.EndItem{},
	))
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "return nil", out[0].Text())
	assert.Equal(t, "uret", out[0].Deleted())
}

func TestFeedConcatenatesEnvelopes(t *testing.T) {
	d := NewDecoder(&fixedSource{id: 7})

	out, err := d.Feed(response(7, supermaven.TextItem{Text: "fmt."}))
	require.NoError(t, err)
	assert.Empty(t, out)

	out, err = d.Feed(response(7, supermaven.TextItem{Text: "Println"}, supermaven.BarrierItem{}))
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "fmt.Println", out[0].Text())

	out, err = d.Feed(response(7, supermaven.TextItem{Text: "()"}, supermaven.EndItem{}))
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.True(t, out[0].Final)
	assert.Equal(t, "fmt.Println()", out[0].Text())
}

func TestFeedStaleEnvelopeIsDiscarded(t *testing.T) {
	src := &fixedSource{id: 5}
	d := NewDecoder(src)

	_, err := d.Feed(response(5, supermaven.TextItem{Text: "keep"}))
	require.NoError(t, err)
	before := d.Pending()

	for _, id := range []supermaven.StateID{1, 4, 6, 100} {
		out, err := d.Feed(response(id,
			supermaven.TextItem{Text: "stale"},
			supermaven.BarrierItem{},
			supermaven.EndItem{},
		))
		require.NoError(t, err)
		assert.Empty(t, out, "state %s", id)
		assert.Equal(t, before, d.Pending(), "state %s", id)
	}
	assert.Equal(t, 4, d.Stale())

	out, err := d.Feed(response(5, supermaven.EndItem{}))
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "keep", out[0].Text())
}

func TestFeedStaleEndDoesNotFinalize(t *testing.T) {
	cache := NewCache(time.Minute)
	defer cache.Close()

	src := &fixedSource{id: 2}
	d := NewDecoder(src, WithCache(cache))

	out, err := d.Feed(response(1, supermaven.TextItem{Text: "old"}, supermaven.EndItem{}))
	require.NoError(t, err)
	assert.Empty(t, out)

	_, ok := d.Completed(1)
	assert.False(t, ok)
	assert.Equal(t, 0, cache.Len())
}

func TestFeedZeroIDBeforeFirstCommit(t *testing.T) {
	d := NewDecoder(&fixedSource{})

	msg, err := supermaven.ParseMessage([]byte(`{"kind":"response","items":[{"Text":"ghost"},"End"]}`))
	require.NoError(t, err)
	out, err := d.Feed(&msg.(*supermaven.ResponseMessage).Response)
	require.NoError(t, err)
	assert.Empty(t, out)
	assert.Equal(t, 1, d.Stale())
	assert.Equal(t, Suggestion{}, d.Pending())
}

func TestFeedItemsAfterEnd(t *testing.T) {
	d := NewDecoder(&fixedSource{id: 1})

	out, err := d.Feed(response(1, supermaven.TextItem{Text: "a"}, supermaven.EndItem{}, supermaven.TextItem{Text: "b"}))
	assert.ErrorIs(t, err, ErrItemsAfterEnd)
	require.Len(t, out, 1)
	assert.Equal(t, "a", out[0].Text())

	_, err = d.Feed(response(1, supermaven.BarrierItem{}))
	assert.ErrorIs(t, err, ErrItemsAfterEnd)
}

func TestFeedItemsAfterEndInLaterEnvelope(t *testing.T) {
	d := NewDecoder(&fixedSource{id: 9})

	_, err := d.Feed(response(9, supermaven.EndItem{}))
	require.NoError(t, err)

	for _, item := range []supermaven.ResponseItem{
		supermaven.TextItem{Text: "x"},
		supermaven.DelItem{Text: "x"},
		supermaven.DedentItem{Text: " "},
		supermaven.BarrierItem{},
		supermaven.EndItem{},
	} {
		_, err := d.Feed(response(9, item))
		assert.ErrorIs(t, err, ErrItemsAfterEnd, "%T", item)
	}

	// An empty envelope carries no items and is not a violation.
	_, err = d.Feed(response(9))
	assert.NoError(t, err)
}

func TestFeedNewIDAbandonsFold(t *testing.T) {
	src := &fixedSource{id: 1}
	d := NewDecoder(src)

	_, err := d.Feed(response(1, supermaven.TextItem{Text: "partial"}))
	require.NoError(t, err)

	src.id = 2
	out, err := d.Feed(response(2, supermaven.TextItem{Text: "fresh"}, supermaven.EndItem{}))
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "fresh", out[0].Text())

	// Late items for the retired id are stale, not a protocol error.
	out, err = d.Feed(response(1, supermaven.EndItem{}))
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestFeedDedentAttachesToNextInsert(t *testing.T) {
	d := NewDecoder(&fixedSource{id: 1})

	out, err := d.Feed(response(1,
		supermaven.TextItem{Text: "if x {\n"},
		supermaven.DedentItem{Text: "\t"},
		supermaven.TextItem{Text: "}"},
		supermaven.EndItem{},
	))
	require.NoError(t, err)
	require.Len(t, out, 1)

	ops := out[0].Ops
	require.Len(t, ops, 2)
	assert.Empty(t, ops[0].Dedent)
	assert.Equal(t, "\t", ops[1].Dedent)
	assert.Equal(t, "\t", out[0].Dedent())
	assert.Equal(t, "if x {\n}", out[0].Text())
}

func TestFeedTrailingDedentIsKept(t *testing.T) {
	d := NewDecoder(&fixedSource{id: 1})

	out, err := d.Feed(response(1, supermaven.TextItem{Text: "x"}, supermaven.DedentItem{Text: "  "}, supermaven.EndItem{}))
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "  ", out[0].Dedent())
	assert.Equal(t, "x", out[0].Text())
}

func TestAbandonClearsFold(t *testing.T) {
	d := NewDecoder(&fixedSource{id: 1})

	_, err := d.Feed(response(1, supermaven.TextItem{Text: "abc"}))
	require.NoError(t, err)
	require.Equal(t, "abc", d.Pending().Text())

	d.Abandon()
	assert.Equal(t, Suggestion{}, d.Pending())

	out, err := d.Feed(response(1, supermaven.TextItem{Text: "z"}, supermaven.EndItem{}))
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "z", out[0].Text())
}

func TestCompletedFromCache(t *testing.T) {
	cache := NewCache(time.Minute)
	defer cache.Close()

	d := NewDecoder(&fixedSource{id: 4}, WithCache(cache))
	_, err := d.Feed(response(4, supermaven.TextItem{Text: "done"}, supermaven.EndItem{}))
	require.NoError(t, err)

	s, ok := d.Completed(4)
	require.True(t, ok)
	assert.True(t, s.Final)
	assert.Equal(t, "done", s.Text())

	_, ok = d.Completed(3)
	assert.False(t, ok)
}

func TestCompletedWithoutCache(t *testing.T) {
	d := NewDecoder(&fixedSource{id: 1})
	_, err := d.Feed(response(1, supermaven.EndItem{}))
	require.NoError(t, err)

	_, ok := d.Completed(1)
	assert.False(t, ok)
}

type strangeItem struct{}

func (strangeItem) ItemKind() supermaven.ItemKind { return "strange" }

func TestFeedUnknownItemAbortsFold(t *testing.T) {
	d := NewDecoder(&fixedSource{id: 1})

	_, err := d.Feed(response(1, supermaven.TextItem{Text: "a"}, strangeItem{}))
	assert.ErrorIs(t, err, supermaven.ErrUnknownResponseItem)

	_, err = d.Feed(response(1, supermaven.TextItem{Text: "b"}))
	assert.ErrorIs(t, err, ErrItemsAfterEnd)
}
