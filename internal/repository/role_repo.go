package repository

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"saferide-backend/internal/model"
)

type RoleRepository struct {
	pool *pgxpool.Pool
}

func NewRoleRepository(pool *pgxpool.Pool) *RoleRepository {
	return &RoleRepository{pool: pool}
}

// RolesOf returns every role assigned to the user with its permissions. A
// user without roles, or an id that is not a UUID, yields an empty slice.
func (r *RoleRepository) RolesOf(ctx context.Context, principalID string) ([]model.Role, error) {
	userID, err := uuid.Parse(strings.TrimSpace(principalID))
	if err != nil {
		return []model.Role{}, nil
	}

	rows, err := r.pool.Query(ctx,
		`SELECT r.id::text, r.name, r.description,
		        COALESCE(p.id::text, ''), COALESCE(p.name, ''), COALESCE(p.resource, ''), COALESCE(p.action, '')
		 FROM user_roles ur
		 JOIN roles r ON r.id = ur.role_id
		 LEFT JOIN role_permissions rp ON rp.role_id = r.id
		 LEFT JOIN permissions p ON p.id = rp.permission_id
		 WHERE ur.user_id = $1::uuid
		 ORDER BY r.name, p.name`, userID.String())
	if err != nil {
		return nil, fmt.Errorf("query roles: %w", err)
	}
	defer rows.Close()

	roles := make([]model.Role, 0)
	index := map[string]int{}
	for rows.Next() {
		var role model.Role
		var perm model.Permission
		if err := rows.Scan(&role.ID, &role.Name, &role.Description,
			&perm.ID, &perm.Name, &perm.Resource, &perm.Action); err != nil {
			return nil, fmt.Errorf("scan role: %w", err)
		}

		i, ok := index[role.ID]
		if !ok {
			roles = append(roles, role)
			i = len(roles) - 1
			index[role.ID] = i
		}
		if perm.ID != "" {
			roles[i].Permissions = append(roles[i].Permissions, perm)
		}
	}

	return roles, rows.Err()
}

// AssignRole grants the named role to the user. Assigning a role twice is a
// no-op.
func (r *RoleRepository) AssignRole(ctx context.Context, userID string, roleName string) error {
	tag, err := r.pool.Exec(ctx,
		`INSERT INTO user_roles (user_id, role_id)
		 SELECT $1::uuid, id FROM roles WHERE lower(name) = lower($2)
		 ON CONFLICT DO NOTHING`, userID, strings.TrimSpace(roleName))
	if err != nil {
		return fmt.Errorf("assign role: %w", err)
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		if err := r.pool.QueryRow(ctx,
			`SELECT EXISTS(SELECT 1 FROM roles WHERE lower(name) = lower($1))`, roleName).Scan(&exists); err != nil {
			return fmt.Errorf("check role exists: %w", err)
		}
		if !exists {
			return model.ErrRoleNotFound
		}
	}
	return nil
}
