package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	_ "github.com/lib/pq"

	"github.com/duisenbekovayan/order_live/internal/bridge"
	model "github.com/duisenbekovayan/order_live/internal/models"
)

var ErrOrderNotFound = errors.New("order not found")

var _ bridge.Outbox = (*PG)(nil)

type PG struct{ DB *sql.DB }

func New(dsn string) (*PG, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(10)
	db.SetConnMaxLifetime(time.Hour)
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &PG{DB: db}, nil
}

func (p *PG) Close() error { return p.DB.Close() }

// Migrate creates the sync_outbox table. Orders and items belong to the backend.
func (p *PG) Migrate(ctx context.Context) error {
	_, err := p.DB.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS sync_outbox (
			id          TEXT PRIMARY KEY,
			method      TEXT NOT NULL,
			url         TEXT NOT NULL,
			header      JSONB,
			body        BYTEA,
			created_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
			attempts    INT NOT NULL DEFAULT 0,
			last_error  TEXT,
			done_status INT,
			done_body   BYTEA,
			done_at     TIMESTAMPTZ
		)`)
	return err
}

// GetOrder loads an order and its items by public id.
func (p *PG) GetOrder(ctx context.Context, publicID string) (model.Order, error) {
	var (
		o            model.Order
		stall, name  sql.NullString
		payment      sql.NullString
		total        sql.NullFloat64
		status       string
		created, upd sql.NullTime
	)
	err := p.DB.QueryRowContext(ctx, `
		SELECT id, order_public_id, stall_id, customer_name, status, total_amount,
		       payment_status, created_at, updated_at
		FROM orders WHERE order_public_id=$1`, publicID).
		Scan(&o.ID, &o.PublicID, &stall, &name, &status, &total, &payment, &created, &upd)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return o, ErrOrderNotFound
		}
		return o, err
	}
	o.StallID, o.CustomerName, o.PaymentStatus = stall.String, name.String, payment.String
	o.TotalAmount = total.Float64
	o.CreatedAt, o.UpdatedAt = created.Time, upd.Time
	o.Status = model.OrderStatus(status)

	rows, err := p.DB.QueryContext(ctx, `
		SELECT id, menu_item_id, name, quantity, price, status
		FROM order_items WHERE order_public_id=$1 ORDER BY id`, publicID)
	if err != nil {
		return o, err
	}
	defer rows.Close()
	for rows.Next() {
		var (
			it             model.Item
			menuID, itName sql.NullString
			itStatus       string
		)
		if err = rows.Scan(&it.ID, &menuID, &itName, &it.Quantity, &it.Price, &itStatus); err != nil {
			return o, err
		}
		it.OrderPublicID = publicID
		it.MenuItemID, it.Name = menuID.String, itName.String
		it.Status = model.OrderStatus(itStatus)
		o.Items = append(o.Items, it)
	}
	return o, rows.Err()
}

// Enqueue stores a request for background replay. Re-enqueueing an id is a no-op.
func (p *PG) Enqueue(ctx context.Context, req bridge.OutboundRequest) error {
	header, err := json.Marshal(req.Header)
	if err != nil {
		return fmt.Errorf("encode header: %w", err)
	}
	if req.CreatedAt.IsZero() {
		req.CreatedAt = time.Now().UTC()
	}
	_, err = p.DB.ExecContext(ctx, `
		INSERT INTO sync_outbox (id, method, url, header, body, created_at, attempts)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
		ON CONFLICT (id) DO NOTHING`,
		req.ID, req.Method, req.URL, header, req.Body, req.CreatedAt, req.Attempts)
	return err
}

// Pending returns requests not yet replayed successfully, oldest first.
func (p *PG) Pending(ctx context.Context) ([]bridge.OutboundRequest, error) {
	rows, err := p.DB.QueryContext(ctx, `
		SELECT id, method, url, header, body, created_at, attempts, last_error
		FROM sync_outbox WHERE done_at IS NULL ORDER BY created_at, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []bridge.OutboundRequest
	for rows.Next() {
		var (
			r       bridge.OutboundRequest
			header  []byte
			lastErr sql.NullString
		)
		if err := rows.Scan(&r.ID, &r.Method, &r.URL, &header, &r.Body, &r.CreatedAt, &r.Attempts, &lastErr); err != nil {
			return nil, err
		}
		if len(header) > 0 {
			r.Header = http.Header{}
			if err := json.Unmarshal(header, &r.Header); err != nil {
				return nil, fmt.Errorf("decode header of %s: %w", r.ID, err)
			}
		}
		r.LastError = lastErr.String
		res = append(res, r)
	}
	return res, rows.Err()
}

func (p *PG) Complete(ctx context.Context, id string, status int, body []byte) error {
	_, err := p.DB.ExecContext(ctx, `
		UPDATE sync_outbox SET done_status=$2, done_body=$3, done_at=now()
		WHERE id=$1`, id, status, body)
	return err
}

func (p *PG) Fail(ctx context.Context, id string, reason string) error {
	_, err := p.DB.ExecContext(ctx, `
		UPDATE sync_outbox SET attempts=attempts+1, last_error=$2
		WHERE id=$1 AND done_at IS NULL`, id, reason)
	return err
}

func DSN(host string, port int, user, pass, db string) string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable", user, pass, host, port, db)
}
