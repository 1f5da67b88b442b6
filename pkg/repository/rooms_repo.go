package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/fitlane/chatroom/pkg/domain"
)

// uniqueViolation is the Postgres error code raised when the partial unique
// index on rooms.canonical_key rejects a concurrent insert.
const uniqueViolation = "23505"

// RoomsRepository is the relational source of truth for rooms, room
// memberships and external-handle bindings. No other component writes these
// tables.
type RoomsRepository struct {
	db *sql.DB
}

// NewRoomsRepository creates a new rooms repository.
func NewRoomsRepository(db *sql.DB) *RoomsRepository {
	return &RoomsRepository{db: db}
}

const roomColumns = `id, kind, canonical_key, status, owning_tenant_id, created_at, closed_at`

func scanRoom(row interface{ Scan(...any) error }) (*domain.Room, error) {
	var room domain.Room
	err := row.Scan(
		&room.ID,
		&room.Kind,
		&room.CanonicalKey,
		&room.Status,
		&room.OwningTenantID,
		&room.CreatedAt,
		&room.ClosedAt,
	)
	if err != nil {
		return nil, err
	}
	return &room, nil
}

// GetByKey retrieves the active room for a canonical key.
func (r *RoomsRepository) GetByKey(ctx context.Context, canonicalKey string) (*domain.Room, error) {
	query := `
		SELECT ` + roomColumns + `
		FROM rooms
		WHERE canonical_key = $1 AND status = 'active'
	`
	room, err := scanRoom(r.db.QueryRowContext(ctx, query, canonicalKey))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrRoomNotFound
		}
		return nil, err
	}
	return room, nil
}

// GetByID retrieves a room by its local primary key.
func (r *RoomsRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.Room, error) {
	query := `
		SELECT ` + roomColumns + `
		FROM rooms
		WHERE id = $1
	`
	room, err := scanRoom(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrRoomNotFound
		}
		return nil, err
	}
	return room, nil
}

// GetByChannelID resolves a provider channel id to its bound room.
func (r *RoomsRepository) GetByChannelID(ctx context.Context, channelID string) (*domain.Room, error) {
	query := `
		SELECT r.id, r.kind, r.canonical_key, r.status, r.owning_tenant_id, r.created_at, r.closed_at
		FROM rooms r
		INNER JOIN external_handles h ON h.room_id = r.id
		WHERE h.external_channel_id = $1
	`
	room, err := scanRoom(r.db.QueryRowContext(ctx, query, channelID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrRoomNotFound
		}
		return nil, err
	}
	return room, nil
}

// CreateWithHandle persists a room, its initial member set and its external
// handle in one transaction. The remote channel must already exist: this is
// the local commit that happens only after the provider create succeeded.
// A concurrent insert for the same canonical key surfaces as
// domain.ErrDuplicateKey; the caller re-reads and adopts the winner.
func (r *RoomsRepository) CreateWithHandle(ctx context.Context, room *domain.Room, memberIDs []uuid.UUID, handle *domain.ExternalHandle) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	insertRoom := `
		INSERT INTO rooms (id, kind, canonical_key, status, owning_tenant_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	_, err = tx.ExecContext(ctx, insertRoom,
		room.ID,
		room.Kind,
		room.CanonicalKey,
		room.Status,
		room.OwningTenantID,
		room.CreatedAt,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return domain.ErrDuplicateKey
		}
		return err
	}

	insertMember := `
		INSERT INTO room_memberships (room_id, user_id, joined_at)
		VALUES ($1, $2, $3)
	`
	for _, userID := range memberIDs {
		if _, err := tx.ExecContext(ctx, insertMember, room.ID, userID, room.CreatedAt); err != nil {
			return err
		}
	}

	insertHandle := `
		INSERT INTO external_handles (room_id, external_channel_id, external_namespace, created_at)
		VALUES ($1, $2, $3, $4)
	`
	_, err = tx.ExecContext(ctx, insertHandle,
		handle.RoomID,
		handle.ChannelID,
		handle.Namespace,
		handle.CreatedAt,
	)
	if err != nil {
		return err
	}

	return tx.Commit()
}

// AddMember adds a participant to a room. Idempotent.
func (r *RoomsRepository) AddMember(ctx context.Context, roomID, userID uuid.UUID) error {
	query := `
		INSERT INTO room_memberships (room_id, user_id, joined_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (room_id, user_id) DO NOTHING
	`
	_, err := r.db.ExecContext(ctx, query, roomID, userID, time.Now().UTC())
	return err
}

// RemoveMember removes a participant from a room.
func (r *RoomsRepository) RemoveMember(ctx context.Context, roomID, userID uuid.UUID) error {
	query := `
		DELETE FROM room_memberships
		WHERE room_id = $1 AND user_id = $2
	`
	_, err := r.db.ExecContext(ctx, query, roomID, userID)
	return err
}

// MembersOf returns the participant user ids of a room.
func (r *RoomsRepository) MembersOf(ctx context.Context, roomID uuid.UUID) ([]uuid.UUID, error) {
	query := `
		SELECT user_id
		FROM room_memberships
		WHERE room_id = $1
		ORDER BY joined_at ASC
	`
	rows, err := r.db.QueryContext(ctx, query, roomID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var members []uuid.UUID
	for rows.Next() {
		var userID uuid.UUID
		if err := rows.Scan(&userID); err != nil {
			return nil, err
		}
		members = append(members, userID)
	}
	return members, rows.Err()
}

// IsMember reports whether a user participates in a room.
func (r *RoomsRepository) IsMember(ctx context.Context, roomID, userID uuid.UUID) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1 FROM room_memberships
			WHERE room_id = $1 AND user_id = $2
		)
	`
	var exists bool
	if err := r.db.QueryRowContext(ctx, query, roomID, userID).Scan(&exists); err != nil {
		return false, err
	}
	return exists, nil
}

// Close marks a room closed. Closed rooms keep their history and free their
// canonical key for re-use.
func (r *RoomsRepository) Close(ctx context.Context, roomID uuid.UUID) error {
	query := `
		UPDATE rooms
		SET status = 'closed', closed_at = NOW()
		WHERE id = $1 AND status = 'active'
	`
	result, err := r.db.ExecContext(ctx, query, roomID)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return domain.ErrRoomNotFound
	}
	return nil
}

// HandleOf returns the external handle bound to a room.
func (r *RoomsRepository) HandleOf(ctx context.Context, roomID uuid.UUID) (*domain.ExternalHandle, error) {
	query := `
		SELECT room_id, external_channel_id, external_namespace, created_at
		FROM external_handles
		WHERE room_id = $1
	`
	var handle domain.ExternalHandle
	err := r.db.QueryRowContext(ctx, query, roomID).Scan(
		&handle.RoomID,
		&handle.ChannelID,
		&handle.Namespace,
		&handle.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrHandleNotFound
		}
		return nil, err
	}
	return &handle, nil
}

// RemoveHandle deletes a room's handle after the remote channel was
// explicitly deleted.
func (r *RoomsRepository) RemoveHandle(ctx context.Context, roomID uuid.UUID) error {
	query := `
		DELETE FROM external_handles
		WHERE room_id = $1
	`
	_, err := r.db.ExecContext(ctx, query, roomID)
	return err
}

// RebindHandle replaces a room's handle after a remote channel was
// recreated or relabeled by reconciliation repair.
func (r *RoomsRepository) RebindHandle(ctx context.Context, handle *domain.ExternalHandle) error {
	query := `
		INSERT INTO external_handles (room_id, external_channel_id, external_namespace, created_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (room_id) DO UPDATE
		SET external_channel_id = EXCLUDED.external_channel_id,
		    external_namespace = EXCLUDED.external_namespace
	`
	_, err := r.db.ExecContext(ctx, query,
		handle.RoomID,
		handle.ChannelID,
		handle.Namespace,
		handle.CreatedAt,
	)
	return err
}

// ListForUser returns every active room the user participates in that is
// visible from the given tenant. A room is visible when its owning tenant is
// the given tenant, or when every participant holds an active membership in
// the given tenant. Memberships for the whole candidate set are fetched in
// one pass rather than per room.
func (r *RoomsRepository) ListForUser(ctx context.Context, userID, tenantID uuid.UUID) ([]*domain.Room, error) {
	candidateQuery := `
		SELECT r.id, r.kind, r.canonical_key, r.status, r.owning_tenant_id, r.created_at, r.closed_at
		FROM rooms r
		INNER JOIN room_memberships rm ON rm.room_id = r.id
		WHERE rm.user_id = $1 AND r.status = 'active'
		ORDER BY r.created_at DESC
	`
	rows, err := r.db.QueryContext(ctx, candidateQuery, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var candidates []*domain.Room
	for rows.Next() {
		room, err := scanRoom(rows)
		if err != nil {
			return nil, err
		}
		candidates = append(candidates, room)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		return nil, nil
	}

	roomIDs := make([]string, len(candidates))
	for i, room := range candidates {
		roomIDs[i] = room.ID.String()
	}

	// One batched query for all candidate memberships.
	memberQuery := `
		SELECT room_id, user_id
		FROM room_memberships
		WHERE room_id = ANY($1::uuid[])
	`
	memberRows, err := r.db.QueryContext(ctx, memberQuery, pq.Array(roomIDs))
	if err != nil {
		return nil, err
	}
	defer memberRows.Close()

	membersByRoom := make(map[uuid.UUID][]uuid.UUID, len(candidates))
	participantSet := make(map[uuid.UUID]struct{})
	for memberRows.Next() {
		var roomID, memberID uuid.UUID
		if err := memberRows.Scan(&roomID, &memberID); err != nil {
			return nil, err
		}
		membersByRoom[roomID] = append(membersByRoom[roomID], memberID)
		participantSet[memberID] = struct{}{}
	}
	if err := memberRows.Err(); err != nil {
		return nil, err
	}

	participantIDs := make([]string, 0, len(participantSet))
	for id := range participantSet {
		participantIDs = append(participantIDs, id.String())
	}

	// Which of the participants belong to the requested tenant.
	tenantQuery := `
		SELECT user_id
		FROM memberships
		WHERE tenant_id = $1
			AND user_id = ANY($2::uuid[])
			AND status = 'active'
			AND deleted_at IS NULL
	`
	tenantRows, err := r.db.QueryContext(ctx, tenantQuery, tenantID, pq.Array(participantIDs))
	if err != nil {
		return nil, err
	}
	defer tenantRows.Close()

	inTenant := make(map[uuid.UUID]struct{})
	for tenantRows.Next() {
		var memberID uuid.UUID
		if err := tenantRows.Scan(&memberID); err != nil {
			return nil, err
		}
		inTenant[memberID] = struct{}{}
	}
	if err := tenantRows.Err(); err != nil {
		return nil, err
	}

	var visible []*domain.Room
	for _, room := range candidates {
		if room.OwningTenantID == tenantID {
			visible = append(visible, room)
			continue
		}
		allShared := true
		for _, memberID := range membersByRoom[room.ID] {
			if _, ok := inTenant[memberID]; !ok {
				allShared = false
				break
			}
		}
		if allShared {
			visible = append(visible, room)
		}
	}
	return visible, nil
}

// ActiveRoomsWithHandles returns all active rooms together with their
// handles, optionally filtered to one owning tenant.
func (r *RoomsRepository) ActiveRoomsWithHandles(ctx context.Context, tenantID *uuid.UUID) ([]domain.BoundRoom, error) {
	query := `
		SELECT r.id, r.kind, r.canonical_key, r.status, r.owning_tenant_id, r.created_at, r.closed_at,
			h.room_id, h.external_channel_id, h.external_namespace, h.created_at
		FROM rooms r
		INNER JOIN external_handles h ON h.room_id = r.id
		WHERE r.status = 'active'
	`
	args := []any{}
	if tenantID != nil {
		query += ` AND r.owning_tenant_id = $1`
		args = append(args, *tenantID)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var bound []domain.BoundRoom
	for rows.Next() {
		var room domain.Room
		var handle domain.ExternalHandle
		err := rows.Scan(
			&room.ID,
			&room.Kind,
			&room.CanonicalKey,
			&room.Status,
			&room.OwningTenantID,
			&room.CreatedAt,
			&room.ClosedAt,
			&handle.RoomID,
			&handle.ChannelID,
			&handle.Namespace,
			&handle.CreatedAt,
		)
		if err != nil {
			return nil, err
		}
		bound = append(bound, domain.BoundRoom{Room: &room, Handle: &handle})
	}
	return bound, rows.Err()
}
