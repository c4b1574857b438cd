// Package scheme implements the uniform adapter between this repo's
// internal keystore/signature representation and the round-based
// protocol engine imported from github.com/luxfi/threshold. The three
// concrete adapters (GG18, FROST, Taproot Schnorr) all drive their handler
// through the same pump: every round, collect the handler's outgoing
// messages, push them through the messenger as one batch, then block for
// the round's incoming messages and feed them back in.
package scheme

import (
	"context"
	"fmt"
	"strconv"

	"github.com/luxfi/threshold/pkg/party"
	"github.com/luxfi/threshold/pkg/protocol"

	"github.com/taiyi-research-institute/svarog-service-flat/pkg/errs"
	"github.com/taiyi-research-institute/svarog-service-flat/pkg/messenger"
)

// roundTopic namespaces protocol-round messages apart from the session's
// other reserved slots (the config slot and the reshare handoff slots),
// which reuse small (src, dst, seq) values. Every ceremony uses this same
// topic; the provider and consumer clones of one keygen-mnem run are kept
// apart by their distinct src indices, not by the topic.
const roundTopic = "protocol"

// partyIndex renders a party.ID as the numeric src/dst the messenger keys
// messages by. Participant ids throughout this codebase are always decimal
// renderings of architecture global indices, so this is a pure formatting
// step, not a lookup.
func partyIndex(id party.ID) (uint64, error) {
	n, err := strconv.ParseUint(string(id), 10, 64)
	if err != nil {
		return 0, errs.Wrapf(errs.Internal, err, "party id %q is not a numeric index", id)
	}
	return n, nil
}

// runHandler pumps h to completion, exchanging rounds through m, and returns
// the protocol's result (the caller type-asserts it to the concrete keygen
// or signature output type).
//
// Each loop iteration is one send/receive fence: everything the handler has
// queued is grouped per recipient and flushed as exactly one relay slot per
// (self, recipient, seq), and exactly one slot per (sender, self, seq) is
// awaited in return. Grouping matters: a protocol round may emit both a
// broadcast and a point-to-point message to the same recipient, and two
// writes to one slot would collide under the relay's last-write-wins
// semantics. An iteration with nothing queued for some recipient still
// sends that recipient an empty batch, keeping the fence aligned on both
// sides.
func runHandler(ctx context.Context, h *protocol.MultiHandler, m *messenger.Messenger, selfID party.ID, participants []party.ID) (result interface{}, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errs.Newf(errs.ThreadFailed, "panic")
		}
	}()

	seq := uint64(0)
	for {
		if res, rerr := h.Result(); rerr == nil {
			return res, nil
		}

		batches, closed := drainBatches(h.Listen(), selfID, participants)
		if closed {
			// The handler closed its outgoing channel: the protocol either
			// completed or aborted, and no further fence can produce
			// progress.
			res, rerr := h.Result()
			if rerr == nil {
				return res, nil
			}
			return nil, errs.Wrap(errs.ThreadFailed, "exception", rerr)
		}
		src := mustIndex(selfID)
		sent := 0
		for _, to := range participants {
			if to == selfID {
				continue
			}
			sent += len(batches[to])
			if rerr := m.RegisterSend(roundTopic, src, mustIndex(to), seq, batches[to]); rerr != nil {
				return nil, errs.Wrap(errs.ThreadFailed, "exception", rerr)
			}
		}
		if err := m.ExecuteSend(ctx); err != nil {
			return nil, errs.Wrap(errs.ThreadFailed, "exception", err)
		}
		m.ClearSend()

		for _, from := range participants {
			if from == selfID {
				continue
			}
			m.RegisterReceive(roundTopic, mustIndex(from), src, seq)
		}
		if err := m.ExecuteReceive(ctx); err != nil {
			return nil, errs.Wrap(errs.ThreadFailed, "exception", err)
		}

		accepted := 0
		for _, from := range participants {
			if from == selfID {
				continue
			}
			var batch []*protocol.Message
			if uerr := m.UnpackReceive(roundTopic, mustIndex(from), src, seq, &batch); uerr != nil {
				return nil, errs.Wrap(errs.ThreadFailed, "exception", uerr)
			}
			for _, msg := range batch {
				if h.CanAccept(msg) {
					h.Accept(msg)
					accepted++
				}
			}
		}
		m.ClearReceive()
		seq++

		// Fences are lock-step: if this one moved nothing in either
		// direction, the next one is byte-identical, so the protocol can
		// never finish. Fail now instead of spinning until the deadline.
		if sent == 0 && accepted == 0 {
			return nil, errs.New(errs.ThreadFailed, "exception")
		}

		if res, rerr := h.Result(); rerr == nil {
			return res, nil
		}
	}
}

// drainBatches empties the handler's outgoing queue without blocking and
// groups the pending messages per recipient, reporting whether the queue
// was closed (protocol finished or aborted). A broadcast message has no
// single destination, so it is appended to every other participant's batch
// rather than queued under a synthetic sentinel slot — every (src, dst)
// pair used on the relay stays a real participant index, with no reserved
// value to collide with.
func drainBatches(out <-chan *protocol.Message, selfID party.ID, participants []party.ID) (map[party.ID][]*protocol.Message, bool) {
	batches := make(map[party.ID][]*protocol.Message, len(participants))
	for {
		select {
		case msg, ok := <-out:
			if !ok {
				return batches, true
			}
			if msg.Broadcast {
				for _, to := range participants {
					if to == selfID {
						continue
					}
					batches[to] = append(batches[to], msg)
				}
				continue
			}
			batches[msg.To] = append(batches[msg.To], msg)
		default:
			return batches, false
		}
	}
}

func mustIndex(id party.ID) uint64 {
	n, err := partyIndex(id)
	if err != nil {
		// participants are always produced by this package's own id()
		// helper, so a malformed id here is a programming error, not
		// something a caller can recover from.
		panic(fmt.Sprintf("scheme: malformed party id %q", id))
	}
	return n
}

// id renders a global player index (as produced by pkg/architecture) as the
// party.ID the protocol engine addresses participants by.
func id(globalIndex int) party.ID {
	return party.ID(strconv.Itoa(globalIndex))
}

// ids renders a sorted slice of global player indices as party.IDs, in the
// same order.
func ids(globalIndices []int) []party.ID {
	out := make([]party.ID, len(globalIndices))
	for i, idx := range globalIndices {
		out[i] = id(idx)
	}
	return out
}
