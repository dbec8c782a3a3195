package supabase

import (
	"bytes"
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/bytedance/sonic"
	"github.com/go-resty/resty/v2"

	"github.com/globalvalve/valve-record/internal/core/domain"
)

const (
	rpcPath          = "/rest/v1/rpc/"
	profilesPath     = "/rest/v1/profiles"
	auditLogsPath    = "/rest/v1/audit_logs"
	singleObjectMime = "application/vnd.pgrst.object+json"
)

type roleRow struct {
	Role             string `json:"role"`
	AllowedCustomers string `json:"allowed_customers"`
}

type profileInsert struct {
	ID               string `json:"id"`
	Email            string `json:"email,omitempty"`
	Role             string `json:"role"`
	AllowedCustomers string `json:"allowed_customers,omitempty"`
}

type auditRow struct {
	ID         any            `json:"id"`
	Action     string         `json:"action"`
	Details    map[string]any `json:"details"`
	Severity   string         `json:"severity"`
	ActorEmail *string        `json:"actor_email"`
	Timestamp  time.Time      `json:"timestamp"`
	UserID     *string        `json:"user_id"`
}

func (c *Client) rpc(ctx context.Context, name string, args any) (*resty.Response, error) {
	return c.call(ctx, "rpc_"+name, func(r *resty.Request) (*resty.Response, error) {
		return r.SetAuthToken(c.bearer()).SetBody(args).Post(rpcPath + name)
	})
}

// GetActiveUserRole calls the privileged role procedure. Both a single row
// and a one-element array are accepted; an empty answer is "no data".
func (c *Client) GetActiveUserRole(ctx context.Context, userID string) (*domain.RoleGrant, error) {
	resp, err := c.rpc(ctx, "get_active_user_role", map[string]string{"p_user_id": userID})
	if err != nil {
		return nil, err
	}

	body := bytes.TrimSpace(resp.Body())
	if len(body) == 0 || bytes.Equal(body, []byte("null")) || bytes.Equal(body, []byte("[]")) {
		return nil, nil
	}

	var row roleRow
	if body[0] == '[' {
		var rows []roleRow
		if err := sonic.Unmarshal(body, &rows); err != nil {
			return nil, fmt.Errorf("decode role rows: %w", err)
		}
		if len(rows) == 0 {
			return nil, nil
		}
		row = rows[0]
	} else if err := sonic.Unmarshal(body, &row); err != nil {
		return nil, fmt.Errorf("decode role row: %w", err)
	}
	if row.Role == "" {
		return nil, nil
	}
	return &domain.RoleGrant{Role: domain.Role(row.Role), AllowedCustomers: row.AllowedCustomers}, nil
}

// FindProfile selects a single profiles row. PostgREST answers 406 with
// PGRST116 for zero rows, which maps to domain.ErrProfileNotFound.
func (c *Client) FindProfile(ctx context.Context, userID string) (*domain.Profile, error) {
	var p domain.Profile
	_, err := c.call(ctx, "profiles_select", func(r *resty.Request) (*resty.Response, error) {
		return r.SetAuthToken(c.bearer()).
			SetHeader("Accept", singleObjectMime).
			SetQueryParam("select", "id,email,role,allowed_customers,created_at").
			SetQueryParam("id", "eq."+userID).
			SetResult(&p).
			Get(profilesPath)
	})
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (c *Client) InsertProfile(ctx context.Context, profile domain.Profile) error {
	_, err := c.call(ctx, "profiles_insert", func(r *resty.Request) (*resty.Response, error) {
		return r.SetAuthToken(c.bearer()).
			SetHeader("Prefer", "return=minimal").
			SetBody(profileInsert{
				ID:               profile.ID,
				Email:            profile.Email,
				Role:             string(profile.Role),
				AllowedCustomers: profile.AllowedCustomers,
			}).
			Post(profilesPath)
	})
	return err
}

func (c *Client) LogSecurityEvent(ctx context.Context, entry domain.AuditLogEntry) error {
	args := map[string]any{
		"p_action":      entry.Action,
		"p_details":     entry.Details,
		"p_severity":    string(entry.Severity),
		"p_actor_email": entry.ActorEmail,
	}
	if entry.UserID != "" {
		args["p_user_id"] = entry.UserID
	}
	_, err := c.rpc(ctx, "log_security_event", args)
	return err
}

// EnforceDataRetention runs the retention procedure and returns the number of
// purged rows when the procedure reports one.
func (c *Client) EnforceDataRetention(ctx context.Context) (int64, error) {
	resp, err := c.rpc(ctx, "enforce_data_retention", map[string]any{})
	if err != nil {
		return 0, err
	}
	body := bytes.TrimSpace(resp.Body())
	if len(body) == 0 || bytes.Equal(body, []byte("null")) {
		return 0, nil
	}
	n, err := strconv.ParseInt(string(body), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("decode retention result %q: %w", body, err)
	}
	return n, nil
}

func (c *Client) ListAuditLogs(ctx context.Context, limit int) ([]domain.AuditLogEntry, error) {
	var rows []auditRow
	_, err := c.call(ctx, "audit_logs_select", func(r *resty.Request) (*resty.Response, error) {
		return r.SetAuthToken(c.bearer()).
			SetQueryParam("select", "*").
			SetQueryParam("order", "timestamp.desc").
			SetQueryParam("limit", strconv.Itoa(limit)).
			SetResult(&rows).
			Get(auditLogsPath)
	})
	if err != nil {
		return nil, err
	}

	entries := make([]domain.AuditLogEntry, 0, len(rows))
	for _, row := range rows {
		e := domain.AuditLogEntry{
			Action:     row.Action,
			Details:    row.Details,
			Severity:   domain.Severity(row.Severity),
			ActorEmail: row.ActorEmail,
			Timestamp:  row.Timestamp,
		}
		if row.ID != nil {
			e.ID = fmt.Sprint(row.ID)
		}
		if row.UserID != nil {
			e.UserID = *row.UserID
		}
		entries = append(entries, e)
	}
	return entries, nil
}
