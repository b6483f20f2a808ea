package reconcile

import (
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"pgregory.net/rapid"

	"github.com/roomline/roomline/internal/model"
)

func newBareReconciler(t *testing.T) *Reconciler {
	t.Helper()
	rec := New(&fakeQuerier{}, &fakeChannel{}, &fakeWriter{}, &fakeIdentity{}, testLogger(), Options{})
	t.Cleanup(rec.Close)
	return rec
}

func genBody() gopter.Gen {
	return gen.AlphaString().SuchThat(func(s string) bool { return s != "" })
}

func genSkewMillis() gopter.Gen {
	return gen.Int64Range(-5000, 5000)
}

// Property: delivering the same persisted row twice yields the same
// list as delivering it once.
func TestProperty_PersistedArrivalIdempotent(t *testing.T) {
	properties := gopter.NewProperties(nil)

	properties.Property("for any canonical message, redelivery does not grow the list",
		prop.ForAll(
			func(body, userID string, n int) bool {
				rec := newBareReconciler(t)
				defer rec.Close()

				raw := persistedRaw(t, model.Message{
					ID: "row-1", Body: body, UserID: userID, CreatedAt: t0,
				})
				for range n {
					rec.OnPersistedArrived(raw)
				}
				return len(rec.Messages()) == 1
			},
			genBody(),
			gen.Identifier(),
			gen.IntRange(1, 5),
		))

	properties.TestingRun(t)
}

// Property: broadcast-then-row and row-then-broadcast converge to the
// same single canonical entry whenever the skew is inside the window.
func TestProperty_MergeOrderIndependence(t *testing.T) {
	properties := gopter.NewProperties(nil)

	properties.Property("both delivery orders converge to the same list",
		prop.ForAll(
			func(body, userID string, skewMs int64) bool {
				b := model.BroadcastMessage{Body: body, UserID: userID, CreatedAt: t0}
				m := model.Message{
					ID: "row-1", Body: body, UserID: userID,
					CreatedAt: t0.Add(time.Duration(skewMs) * time.Millisecond),
				}

				first := newBareReconciler(t)
				defer first.Close()
				first.OnBroadcastArrived(broadcastRaw(t, b))
				first.OnPersistedArrived(persistedRaw(t, m))

				second := newBareReconciler(t)
				defer second.Close()
				second.OnPersistedArrived(persistedRaw(t, m))
				second.OnBroadcastArrived(broadcastRaw(t, b))

				a, c := first.Messages(), second.Messages()
				if len(a) != len(c) {
					return false
				}

				merged := skewMs > -2000 && skewMs < 2000
				if merged {
					// One entry, carrying the canonical identity.
					return len(a) == 1 && a[0].ID == "row-1" && c[0].ID == "row-1"
				}
				return len(a) == 2
			},
			genBody(),
			gen.Identifier(),
			genSkewMillis(),
		))

	properties.TestingRun(t)
}

// Property: after any sequence of arrivals the list is non-decreasing
// by timestamp and contains no duplicate identities.
func TestProperty_ListStaysOrderedAndDeduplicated(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		rec := New(&fakeQuerier{}, &fakeChannel{}, &fakeWriter{}, &fakeIdentity{}, testLogger(), Options{})
		defer rec.Close()

		numOps := rapid.IntRange(1, 40).Draw(rt, "numOps")
		for i := 0; i < numOps; i++ {
			offsetMs := rapid.Int64Range(0, 60_000).Draw(rt, "offsetMs")
			user := fmt.Sprintf("u%d", rapid.IntRange(1, 3).Draw(rt, "user"))
			body := fmt.Sprintf("m%d", rapid.IntRange(1, 10).Draw(rt, "body"))
			ts := t0.Add(time.Duration(offsetMs) * time.Millisecond)

			if rapid.Bool().Draw(rt, "isRow") {
				id := fmt.Sprintf("row-%d", rapid.IntRange(1, 15).Draw(rt, "rowID"))
				raw, err := json.Marshal(model.Message{
					ID: id, Body: body, UserID: user, CreatedAt: ts,
				})
				if err != nil {
					rt.Fatalf("marshal row: %v", err)
				}
				rec.OnPersistedArrived(raw)
			} else {
				raw, err := json.Marshal(model.BroadcastMessage{
					Body: body, UserID: user, CreatedAt: ts,
				})
				if err != nil {
					rt.Fatalf("marshal broadcast: %v", err)
				}
				rec.OnBroadcastArrived(raw)
			}
		}

		msgs := rec.Messages()
		seen := make(map[string]bool, len(msgs))
		for i, m := range msgs {
			if seen[m.ID] {
				rt.Fatalf("duplicate identity %q in list", m.ID)
			}
			seen[m.ID] = true
			if i > 0 && msgs[i].CreatedAt.Before(msgs[i-1].CreatedAt) {
				rt.Fatalf("list not chronological at %d: %v after %v",
					i, msgs[i].CreatedAt, msgs[i-1].CreatedAt)
			}
		}
	})
}
