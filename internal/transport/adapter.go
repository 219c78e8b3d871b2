package transport

import (
	"context"
	"errors"
	"log/slog"

	"github.com/gorilla/websocket"

	"github.com/landrun/landrun/internal/land"
	"github.com/landrun/landrun/internal/matchtoken"
	"github.com/landrun/landrun/internal/realm"
)

// Adapter drives the envelope protocol for one session: it enforces the
// join-first gate, routes the join through the realm, then forwards actions
// and events to the keeper in arrival order.
type Adapter struct {
	realm *realm.Realm
	log   *slog.Logger

	// OnLeave fires after a joined session detaches, for cluster lease
	// release. May be nil.
	OnLeave func(sess land.Session)
}

// NewAdapter builds an adapter over a realm.
func NewAdapter(r *realm.Realm, log *slog.Logger) *Adapter {
	if log == nil {
		log = slog.Default()
	}
	return &Adapter{realm: r, log: log}
}

// Serve runs the protocol loop until the connection drops or the session is
// closed. lt is the land type the socket path resolved to; claims is the
// verified match token, nil when the land type does not require one.
func (a *Adapter) Serve(ctx context.Context, s *Session, lt *realm.LandType, claims *matchtoken.Claims) {
	var keeper *land.Keeper
	defer func() {
		if keeper != nil {
			keeper.Leave(s.ID())
			if a.OnLeave != nil {
				a.OnLeave(s.Identity())
			}
		}
	}()

	for {
		env, err := s.ReadFrame()
		if err != nil {
			if errors.Is(err, errMalformedFrame) {
				s.Close(CloseProtocolViolation, "malformed envelope")
				return
			}
			if !errors.Is(err, context.Canceled) && !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				a.log.Debug("session read ended", "session", s.ID(), "err", err)
			}
			s.Close(websocket.CloseNormalClosure, "")
			return
		}

		switch env.Kind {
		case KindJoin:
			if keeper != nil {
				s.Send(errorEnvelope(env.RequestID, "alreadyJoined", "session already joined a land", false))
				continue
			}
			k, ok := a.join(ctx, s, lt, claims, env)
			if !ok {
				// Rejections keep the session open for a retry; only a
				// token/land mismatch closes it, inside join.
				select {
				case <-s.Closed():
					return
				default:
					continue
				}
			}
			keeper = k

		case KindAction:
			if keeper == nil {
				s.Send(errorEnvelope(env.RequestID, "notJoined", "join a land first", false))
				s.Close(CloseProtocolViolation, "action before join")
				return
			}
			a.action(ctx, s, keeper, env)

		case KindEvent:
			if keeper == nil {
				s.Send(errorEnvelope(env.RequestID, "notJoined", "join a land first", false))
				s.Close(CloseProtocolViolation, "event before join")
				return
			}
			payload, err := PayloadJSON(env.Payload)
			if err != nil {
				a.log.Warn("dropping undecodable event", "session", s.ID(), "event", env.Type)
				continue
			}
			keeper.SubmitEvent(s.ID(), env.Type, payload)

		default:
			s.Send(errorEnvelope(env.RequestID, "unsupportedKind", "clients may send join, action and event envelopes", false))
			s.Close(CloseProtocolViolation, "unsupported kind")
			return
		}

		select {
		case <-s.Closed():
			return
		default:
		}
	}
}

// join resolves the addressed instance and admits the session. The keeper
// pushes the joinResponse through the sink itself so it always precedes the
// first sync; routing failures are answered here in the same shape.
func (a *Adapter) join(ctx context.Context, s *Session, lt *realm.LandType, claims *matchtoken.Claims, env *Envelope) (*land.Keeper, bool) {
	typeName := lt.Name
	if env.LandType != "" && env.LandType != typeName {
		s.SendJoinResponse(land.JoinResponse{OK: false, Err: land.CustomJoinError("landTypeMismatch", "join names a different land type than this endpoint serves")})
		return nil, false
	}

	instanceID := env.InstanceID
	if env.LandID != "" {
		id, err := land.ParseID(env.LandID)
		if err != nil || id.Type != typeName {
			s.SendJoinResponse(land.JoinResponse{OK: false, Err: land.ErrLandNotFound(env.LandID)})
			return nil, false
		}
		instanceID = id.Instance
	}

	if claims != nil {
		addressed := land.ID{Type: typeName, Instance: instanceID}.String()
		if instanceID == "" || addressed != claims.LandID {
			s.SendJoinResponse(land.JoinResponse{OK: false, Err: land.ErrUnauthorized("match token is not valid for this land")})
			s.Close(CloseUnauthorized, "match token land mismatch")
			return nil, false
		}
	}

	keeper, err := a.realm.RouteJoin(typeName, instanceID)
	if err != nil {
		var je *land.JoinError
		if !errors.As(err, &je) {
			je = land.ErrLandNotFound(instanceID)
		}
		s.SendJoinResponse(land.JoinResponse{OK: false, Err: je})
		return nil, false
	}

	payload, perr := PayloadJSON(env.Payload)
	if perr != nil {
		s.SendJoinResponse(land.JoinResponse{OK: false, Err: land.CustomJoinError("badPayload", "join payload is not serializable")})
		return nil, false
	}

	res, err := keeper.Join(ctx, s.Identity(), s, payload)
	if err != nil {
		s.SendJoinResponse(land.JoinResponse{OK: false, Err: land.ErrLandNotFound(keeper.ID().String())})
		return nil, false
	}
	if !res.OK {
		return nil, false
	}
	a.log.Info("session joined land", "session", s.ID(), "land", keeper.ID().String(), "player", res.PlayerID)
	return keeper, true
}

// action dispatches one request/response action and answers with a
// correlated actionResponse. Dispatch failures ride inside the response;
// the session stays open either way.
func (a *Adapter) action(ctx context.Context, s *Session, keeper *land.Keeper, env *Envelope) {
	out := &Envelope{
		V:         ProtocolVersion,
		Kind:      KindActionResponse,
		RequestID: env.RequestID,
		Type:      env.Type,
	}
	payload, err := PayloadJSON(env.Payload)
	if err != nil {
		out.Error = &ErrorInfo{Code: land.DispatchCodeDecodeFailed, Message: "action payload is not serializable"}
		s.Send(out)
		return
	}
	resp, derr := keeper.SubmitAction(ctx, s.ID(), env.Type, payload)
	if derr != nil {
		out.Error = &ErrorInfo{Code: derr.Code, Message: derr.Message, Retryable: derr.Retryable}
	} else {
		out.Payload = resp
	}
	s.Send(out)
}

func errorEnvelope(requestID, code, msg string, retryable bool) *Envelope {
	return &Envelope{
		V:         ProtocolVersion,
		Kind:      KindError,
		RequestID: requestID,
		Error:     &ErrorInfo{Code: code, Message: msg, Retryable: retryable},
	}
}
