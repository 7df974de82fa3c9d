package main

import (
	"fmt"

	"github.com/pkg/errors"

	echoapi "github.com/trezcool/tahadhari/apps/api/echo"
	"github.com/trezcool/tahadhari/core"
)

var roles = []string{core.RoleStudent, core.RoleLecturer, core.RoleAdmin}

// token mints an API token, for local runs and operators; end users get theirs from the platform.
func (cli *commandLine) token(userID int, role, email string) error {
	role = core.CleanString(role, true)
	valid := false
	for _, r := range roles {
		valid = valid || r == role
	}
	if !valid {
		return core.NewValidationError(
			errors.Errorf("invalid role: %q", role),
			core.FieldError{Field: "role", Error: core.OneOf(role, roles)},
		)
	}

	id := core.Identity{UserID: userID, Role: role, Email: core.CleanString(email, true)}
	token, err := echoapi.GenerateToken(echoapi.GetClaims(id, cli.conf), cli.conf.SecretKey)
	if err != nil {
		return err
	}
	fmt.Fprintln(cli.out, token)
	return nil
}
