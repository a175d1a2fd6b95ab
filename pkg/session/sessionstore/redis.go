package sessionstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/a-essam23/pairpad/pkg/session"
	"github.com/a-essam23/pairpad/pkg/session/codegen"
)

const (
	roomKeyPrefix = "pairpad:room:"
	activeSetKey  = "pairpad:codes:active"
)

// Redis is the durable session.Registry variant: one JSON document per room.
// Read-modify-write is safe because the relay serializes mutations per room.
// Every backend failure is surfaced as session.ErrBackendUnavailable; the
// relay turns that into a caller-local error instead of crashing.
type Redis struct {
	rdb        *redis.Client
	gen        *codegen.Generator
	maxContent int
	logger     *slog.Logger
}

// NewRedis connects to redis and verifies connectivity before returning.
func NewRedis(ctx context.Context, url string, logger *slog.Logger, gen *codegen.Generator, maxContent int) (*Redis, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parsing redis url: %w", err)
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	if maxContent <= 0 {
		maxContent = session.MaxContentBytes
	}
	return &Redis{
		rdb:        rdb,
		gen:        gen,
		maxContent: maxContent,
		logger:     logger.With(slog.String("component", "sessionstore_redis")),
	}, nil
}

var _ session.Registry = (*Redis)(nil)

// roomDoc is the persisted shape of a room.
type roomDoc struct {
	Code           string    `json:"code"`
	Content        string    `json:"content"`
	CreatorID      string    `json:"creatorId"`
	Participants   []partDoc `json:"participants"`
	GuestJoined    bool      `json:"guestJoined"`
	Active         bool      `json:"active"`
	CreatedAt      time.Time `json:"createdAt"`
	LastActivityAt time.Time `json:"lastActivityAt"`
}

type partDoc struct {
	ClientID    string       `json:"clientId"`
	DisplayName string       `json:"displayName"`
	Role        session.Role `json:"role"`
	JoinedAt    time.Time    `json:"joinedAt"`
}

func docFromRoom(r *session.Room) *roomDoc {
	doc := &roomDoc{
		Code:           r.Code,
		Content:        r.Content,
		CreatorID:      r.CreatorID,
		GuestJoined:    r.GuestJoined,
		Active:         r.Active,
		CreatedAt:      r.CreatedAt,
		LastActivityAt: r.LastActivityAt,
	}
	for _, p := range r.Participants {
		doc.Participants = append(doc.Participants, partDoc{
			ClientID:    p.ClientID,
			DisplayName: p.DisplayName,
			Role:        p.Role,
			JoinedAt:    p.JoinedAt,
		})
	}
	return doc
}

func (d *roomDoc) room() *session.Room {
	r := &session.Room{
		Code:           d.Code,
		Content:        d.Content,
		CreatorID:      d.CreatorID,
		GuestJoined:    d.GuestJoined,
		Active:         d.Active,
		CreatedAt:      d.CreatedAt,
		LastActivityAt: d.LastActivityAt,
	}
	for _, p := range d.Participants {
		r.Participants = append(r.Participants, &session.Participant{
			ClientID:    p.ClientID,
			DisplayName: p.DisplayName,
			Role:        p.Role,
			JoinedAt:    p.JoinedAt,
		})
	}
	return r
}

func backendErr(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, session.ErrBackendUnavailable, err)
}

func (s *Redis) load(ctx context.Context, code string) (*session.Room, error) {
	raw, err := s.rdb.Get(ctx, roomKeyPrefix+code).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, session.ErrSessionNotFound
	}
	if err != nil {
		return nil, backendErr("loading room", err)
	}
	var doc roomDoc
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, backendErr("decoding room", err)
	}
	return doc.room(), nil
}

func (s *Redis) save(ctx context.Context, room *session.Room) error {
	raw, err := json.Marshal(docFromRoom(room))
	if err != nil {
		return backendErr("encoding room", err)
	}
	pipe := s.rdb.TxPipeline()
	pipe.Set(ctx, roomKeyPrefix+room.Code, raw, 0)
	if room.Active {
		pipe.SAdd(ctx, activeSetKey, room.Code)
	} else {
		pipe.SRem(ctx, activeSetKey, room.Code)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return backendErr("saving room", err)
	}
	return nil
}

func (s *Redis) CreateRoom(ctx context.Context, creatorID, creatorName string) (*session.Room, error) {
	var checkErr error
	code, err := s.gen.Generate(func(code string) bool {
		n, err := s.rdb.Exists(ctx, roomKeyPrefix+code).Result()
		if err != nil {
			checkErr = err
			return true // treat as taken so the loop fails fast
		}
		return n > 0
	})
	if checkErr != nil {
		return nil, backendErr("checking code collision", checkErr)
	}
	if err != nil {
		return nil, err
	}

	now := time.Now()
	room := &session.Room{
		Code:      code,
		CreatorID: creatorID,
		Participants: []*session.Participant{{
			ClientID:    creatorID,
			DisplayName: creatorName,
			Role:        session.RoleCreator,
			JoinedAt:    now,
		}},
		Active:         true,
		CreatedAt:      now,
		LastActivityAt: now,
	}
	if err := s.save(ctx, room); err != nil {
		return nil, err
	}
	s.logger.Debug("Room created", slog.String("code", code), slog.String("creator", creatorID))
	return room, nil
}

func (s *Redis) FindActiveRoom(ctx context.Context, code string) (*session.Room, error) {
	room, err := s.load(ctx, session.CanonicalCode(code))
	if err != nil {
		return nil, err
	}
	if !room.Active {
		return nil, session.ErrSessionNotFound
	}
	return room, nil
}

func (s *Redis) UpsertParticipant(ctx context.Context, code, clientID, name string) (*session.Room, bool, error) {
	room, err := s.load(ctx, session.CanonicalCode(code))
	if err != nil {
		return nil, false, err
	}

	now := time.Now()
	reactivated := false
	if p := room.Participant(clientID); p != nil {
		p.DisplayName = name
		if clientID == room.CreatorID && !room.Active {
			room.Active = true
			reactivated = true
			s.logger.Debug("Room reactivated by creator re-join", slog.String("code", room.Code))
		}
	} else {
		if !room.Active {
			return nil, false, session.ErrSessionNotFound
		}
		room.Participants = append(room.Participants, &session.Participant{
			ClientID:    clientID,
			DisplayName: name,
			Role:        session.RoleGuest,
			JoinedAt:    now,
		})
		room.GuestJoined = true
	}
	room.LastActivityAt = now
	if err := s.save(ctx, room); err != nil {
		return nil, false, err
	}
	return room, reactivated, nil
}

func (s *Redis) SetContent(ctx context.Context, code, text string) (*session.Room, error) {
	if len(text) > s.maxContent {
		return nil, session.ErrContentTooLarge
	}
	room, err := s.load(ctx, session.CanonicalCode(code))
	if err != nil {
		return nil, err
	}
	room.Content = text
	room.LastActivityAt = time.Now()
	if err := s.save(ctx, room); err != nil {
		return nil, err
	}
	return room, nil
}

func (s *Redis) RenameParticipant(ctx context.Context, code, clientID, name string) (*session.Room, error) {
	room, err := s.load(ctx, session.CanonicalCode(code))
	if err != nil {
		return nil, err
	}
	p := room.Participant(clientID)
	if p == nil {
		return nil, session.ErrParticipantNotFound
	}
	p.DisplayName = session.SanitizeName(name, p.DisplayName)
	room.LastActivityAt = time.Now()
	if err := s.save(ctx, room); err != nil {
		return nil, err
	}
	return room, nil
}

func (s *Redis) RemoveParticipant(ctx context.Context, code, clientID string) (*session.Room, bool, error) {
	canonical := session.CanonicalCode(code)
	room, err := s.load(ctx, canonical)
	if err != nil {
		return nil, false, err
	}

	if clientID == room.CreatorID {
		if !room.GuestJoined {
			pipe := s.rdb.TxPipeline()
			pipe.Del(ctx, roomKeyPrefix+canonical)
			pipe.SRem(ctx, activeSetKey, canonical)
			if _, err := pipe.Exec(ctx); err != nil {
				return nil, false, backendErr("deleting room", err)
			}
			s.logger.Debug("Room deleted, creator left before any guest", slog.String("code", canonical))
			return nil, true, nil
		}
		room.Active = false
		room.LastActivityAt = time.Now()
		if err := s.save(ctx, room); err != nil {
			return nil, false, err
		}
		return room, false, nil
	}

	for i, p := range room.Participants {
		if p.ClientID == clientID {
			room.Participants = append(room.Participants[:i], room.Participants[i+1:]...)
			break
		}
	}
	room.LastActivityAt = time.Now()
	if err := s.save(ctx, room); err != nil {
		return nil, false, err
	}
	return room, false, nil
}

func (s *Redis) ActiveRooms(ctx context.Context) ([]*session.Room, error) {
	codes, err := s.rdb.SMembers(ctx, activeSetKey).Result()
	if err != nil {
		return nil, backendErr("listing active codes", err)
	}
	rooms := make([]*session.Room, 0, len(codes))
	for _, code := range codes {
		room, err := s.load(ctx, code)
		if errors.Is(err, session.ErrSessionNotFound) {
			// Stale set entry; drop it and move on.
			s.rdb.SRem(ctx, activeSetKey, code)
			continue
		}
		if err != nil {
			return nil, err
		}
		if room.Active {
			rooms = append(rooms, room)
		}
	}
	return rooms, nil
}

func (s *Redis) Close() error { return s.rdb.Close() }
