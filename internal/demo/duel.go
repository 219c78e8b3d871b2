// Package demo ships the built-in "duel" land type: a two-player arena
// that exercises every sync policy and the full action/event surface, and
// doubles as the out-of-the-box target for matchmaking queues like
// "duel:2v2".
package demo

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/landrun/landrun/internal/land"
	"github.com/landrun/landrun/internal/realm"
	"github.com/landrun/landrun/internal/statesync"
)

const (
	maxPlayers = 4
	baseHP     = int64(100)
)

// Schema declares the duel state tree: public combat state, per-player
// private scores, a server-only RNG ledger and a masked loadout that other
// players see only in outline.
func Schema() *statesync.Schema {
	return &statesync.Schema{
		LandType: "duel",
		Fields: []statesync.Field{
			{Name: "tick", Kind: statesync.KindValue, Policy: statesync.Broadcast},
			{Name: "phase", Kind: statesync.KindValue, Policy: statesync.Broadcast},
			{Name: "players", Kind: statesync.KindMap, Policy: statesync.Broadcast,
				Elem: &statesync.Field{Kind: statesync.KindObject, Policy: statesync.Broadcast,
					Fields: []statesync.Field{
						{Name: "name", Kind: statesync.KindValue, Policy: statesync.Broadcast},
						{Name: "hp", Kind: statesync.KindValue, Policy: statesync.Broadcast},
						// Everyone sees only the loadout archetype here; the
						// concrete kit lives in the player's private state.
						{Name: "loadout", Kind: statesync.KindValue, Policy: statesync.Masked,
							Mask: func(v any, _ string) any {
								s, _ := v.(string)
								archetype, _, _ := strings.Cut(s, "/")
								return archetype
							}},
					},
				},
			},
			{Name: "privateStates", Kind: statesync.KindMap, Policy: statesync.PerPlayer,
				Elem: &statesync.Field{Kind: statesync.KindObject, Policy: statesync.Broadcast,
					Fields: []statesync.Field{
						{Name: "score", Kind: statesync.KindValue, Policy: statesync.Broadcast},
						// The concrete kit; the public tree only ever shows
						// the archetype.
						{Name: "kit", Kind: statesync.KindValue, Policy: statesync.Broadcast},
					},
				},
			},
			{Name: "rolls", Kind: statesync.KindValue, Policy: statesync.ServerOnly},
		},
	}
}

type attackRequest struct {
	Target string `json:"target"`
}

// Definition builds the duel land definition.
func Definition() *land.Definition {
	def := &land.Definition{
		ID:           "duel",
		Schema:       Schema(),
		TickInterval: 50 * time.Millisecond,
		InitState: func() land.State {
			return land.State{
				"tick":          int64(0),
				"phase":         "waiting",
				"players":       map[string]any{},
				"privateStates": map[string]any{},
				"rolls":         int64(0),
			}
		},
		CanJoin: func(s land.State, sess land.Session, _ []byte, _ *land.Context) (land.JoinDecision, error) {
			if sess.UserID == "" {
				return land.JoinDecision{}, land.ErrUnauthorized("a user identity is required")
			}
			players := s["players"].(map[string]any)
			if len(players) >= maxPlayers {
				return land.JoinDecision{}, land.ErrRoomFull()
			}
			return land.Allow(sess.UserID), nil
		},
		OnJoin: func(s land.State, ctx *land.Context) {
			s["players"].(map[string]any)[ctx.PlayerID] = map[string]any{
				"name":    ctx.PlayerID,
				"hp":      baseHP,
				"loadout": "standard/longsword",
			}
			s["privateStates"].(map[string]any)[ctx.PlayerID] = map[string]any{
				"score": int64(0),
				"kit":   "standard/longsword",
			}
			if len(s["players"].(map[string]any)) >= 2 {
				s["phase"] = "fighting"
				ctx.SendEvent(land.ToAll(), "duel.started", map[string]any{"tick": ctx.Tick})
			}
		},
		OnLeave: func(s land.State, ctx *land.Context) {
			delete(s["players"].(map[string]any), ctx.PlayerID)
			delete(s["privateStates"].(map[string]any), ctx.PlayerID)
			if len(s["players"].(map[string]any)) < 2 {
				s["phase"] = "waiting"
			}
		},
		OnTick: func(s land.State, _ *land.Context) {
			s["tick"] = s["tick"].(int64) + 1
		},
		Actions: map[string]land.Action{
			"attack": {
				Decode: func(data []byte) (any, error) {
					var req attackRequest
					if err := json.Unmarshal(data, &req); err != nil {
						return nil, err
					}
					return req, nil
				},
				Handle: func(s land.State, ctx *land.Context, req any) (any, error) {
					r := req.(attackRequest)
					players := s["players"].(map[string]any)
					target, ok := players[r.Target].(map[string]any)
					if !ok {
						return nil, fmt.Errorf("no player %q in this duel", r.Target)
					}
					if r.Target == ctx.PlayerID {
						return nil, fmt.Errorf("cannot attack yourself")
					}
					dmg := int64(ctx.Rand.IntRange(5, 20))
					s["rolls"] = s["rolls"].(int64) + 1
					hp := target["hp"].(int64) - dmg
					if hp < 0 {
						hp = 0
					}
					target["hp"] = hp

					private := s["privateStates"].(map[string]any)[ctx.PlayerID].(map[string]any)
					private["score"] = private["score"].(int64) + dmg
					if hp == 0 {
						s["phase"] = "finished"
						ctx.SendEvent(land.ToAll(), "duel.finished", map[string]any{"winner": ctx.PlayerID})
					}
					return map[string]any{"damage": dmg, "targetHp": hp}, nil
				},
			},
		},
		Events: map[string]land.Event{
			"taunt": {
				Handle: func(_ land.State, ctx *land.Context, _ any) {
					ctx.SendEvent(land.ToAll(), "duel.taunt", map[string]any{"from": ctx.PlayerID})
				},
			},
		},
	}
	return def
}

// Register adds the duel type and its replay alias to a realm. Matched
// lands are named by the control plane, so auto-create on join is on.
func Register(r *realm.Realm) error {
	def := Definition()
	if err := r.Register(realm.LandType{
		Name:                  "duel",
		Definition:            def,
		AllowAutoCreateOnJoin: true,
	}); err != nil {
		return err
	}
	replayDef := Definition()
	return r.Register(realm.LandType{
		Name:       "duel" + realm.ReplaySuffix,
		Definition: replayDef,
	})
}
