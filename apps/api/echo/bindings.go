package echoapi

import (
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/trezcool/tahadhari/core"
	"github.com/trezcool/tahadhari/core/alert"
)

const (
	orderingParam = "ordering"
	maxListLimit  = 200
)

type Ordering struct {
	Orderings []core.DBOrdering
}

// Bind reads a comma separated `ordering` param ("-severity,created_at"), checked against allowed.
func (ord *Ordering) Bind(ctx echo.Context, allowed ...string) error {
	val := ctx.QueryParam(orderingParam)
	if val == "" {
		return nil
	}
	for _, field := range strings.Split(val, ",") {
		o, err := core.ParseDBOrdering(field, allowed...)
		if err != nil {
			return err
		}
		ord.Orderings = append(ord.Orderings, o)
	}
	return nil
}

func invalidParam(field, msg string) error {
	return core.NewValidationError(errors.Errorf("invalid %s", field), core.FieldError{Field: field, Error: msg})
}

func queryBool(ctx echo.Context, name string) (bool, error) {
	raw := ctx.QueryParam(name)
	if raw == "" {
		return false, nil
	}
	b, err := strconv.ParseBool(raw)
	if err != nil {
		return false, invalidParam(name, "must be a boolean")
	}
	return b, nil
}

func queryPositiveInt(ctx echo.Context, name string) (null.Int, error) {
	raw := ctx.QueryParam(name)
	if raw == "" {
		return null.Int{}, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return null.Int{}, invalidParam(name, "must be a positive integer")
	}
	return null.IntFrom(n), nil
}

func bindAlertFilter(ctx echo.Context) (alert.Filter, error) {
	var (
		f   alert.Filter
		err error
	)
	if f.CourseID, err = queryPositiveInt(ctx, "course_id"); err != nil {
		return f, err
	}
	if f.UnreadOnly, err = queryBool(ctx, "unread"); err != nil {
		return f, err
	}
	if f.ActionRequiredOnly, err = queryBool(ctx, "action_required"); err != nil {
		return f, err
	}
	limit, err := queryPositiveInt(ctx, "limit")
	if err != nil {
		return f, err
	}
	if limit.Valid {
		f.Limit = limit.Int
		if f.Limit > maxListLimit {
			f.Limit = maxListLimit
		}
	}

	var ord Ordering
	if err = ord.Bind(ctx, alert.OrderingFields...); err != nil {
		return f, err
	}
	f.Ordering = ord.Orderings
	return f, nil
}

// bindRecipient resolves whose alerts a request acts on: the caller's own, or, for admins,
// the user named by the `user_id` and `user_type` query params.
func bindRecipient(ctx echo.Context) (alert.RecipientType, int, error) {
	claims, err := getContextClaims(ctx)
	if err != nil {
		return "", 0, err
	}
	if claims.Role != core.RoleAdmin {
		return alert.RecipientType(claims.Role), claims.UserID, nil
	}

	uid, err := queryPositiveInt(ctx, "user_id")
	if err != nil {
		return "", 0, err
	}
	if !uid.Valid {
		return "", 0, invalidParam("user_id", "this field is required")
	}
	rt := alert.RecipientType(core.CleanString(ctx.QueryParam("user_type"), true))
	if !rt.Valid() {
		return "", 0, invalidParam("user_type", core.OneOf(string(rt), []string{
			string(alert.RecipientStudent), string(alert.RecipientLecturer),
		}))
	}
	return rt, uid.Int, nil
}
