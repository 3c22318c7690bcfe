package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/platinummonkey/redback/pkg/rbac"
)

const permissionColumns = `
	p.name, p.description, p.permanent,
	o.name, o.description, o.permanent,
	r.identifier, r.pattern, r.permanent`

const permissionJoins = `
	FROM rbac_permissions p
	JOIN rbac_operations o ON o.name = p.operation_name
	JOIN rbac_resources r ON r.identifier = p.resource_identifier`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanPermission(row rowScanner) (*rbac.Permission, error) {
	p := &rbac.Permission{Operation: &rbac.Operation{}, Resource: &rbac.Resource{}}
	err := row.Scan(
		&p.Name, &p.Description, &p.Permanent,
		&p.Operation.Name, &p.Operation.Description, &p.Operation.Permanent,
		&p.Resource.Identifier, &p.Resource.Pattern, &p.Resource.Permanent,
	)
	if err != nil {
		return nil, err
	}
	return p, nil
}

func queryPermissions(ctx context.Context, q queryer, query string, args ...interface{}) ([]*rbac.Permission, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query permissions: %w", err)
	}
	defer rows.Close()

	var out []*rbac.Permission
	for rows.Next() {
		p, err := scanPermission(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan permission: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// Operations

func (s *Store) CreateOperation(name string) *rbac.Operation {
	return &rbac.Operation{Name: name}
}

func validateOperation(op *rbac.Operation) error {
	if op == nil || strings.TrimSpace(op.Name) == "" {
		return rbac.Invalid("operation", "name is required")
	}
	return nil
}

func upsertOperation(ctx context.Context, q queryer, op *rbac.Operation) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO rbac_operations (name, description, permanent)
		VALUES ($1, $2, $3)
		ON CONFLICT (name) DO UPDATE SET description = excluded.description, permanent = excluded.permanent`,
		op.Name, op.Description, op.Permanent,
	)
	if err != nil {
		return fmt.Errorf("failed to save operation %s: %w", op.Name, err)
	}
	return nil
}

func (s *Store) SaveOperation(ctx context.Context, op *rbac.Operation) (_ *rbac.Operation, err error) {
	defer s.observe("save_operation", time.Now(), &err)
	if err := validateOperation(op); err != nil {
		return nil, err
	}
	if err := upsertOperation(ctx, s.db, op); err != nil {
		return nil, err
	}
	return op, nil
}

func (s *Store) GetOperation(ctx context.Context, name string) (_ *rbac.Operation, err error) {
	defer s.observe("get_operation", time.Now(), &err)
	op := &rbac.Operation{}
	err = s.db.QueryRowContext(ctx,
		"SELECT name, description, permanent FROM rbac_operations WHERE name = $1", name,
	).Scan(&op.Name, &op.Description, &op.Permanent)
	if err == sql.ErrNoRows {
		return nil, rbac.NotFound("operation", name)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get operation: %w", err)
	}
	return op, nil
}

func (s *Store) GetAllOperations(ctx context.Context) (_ []*rbac.Operation, err error) {
	defer s.observe("get_all_operations", time.Now(), &err)
	rows, err := s.db.QueryContext(ctx, "SELECT name, description, permanent FROM rbac_operations ORDER BY name")
	if err != nil {
		return nil, fmt.Errorf("failed to list operations: %w", err)
	}
	defer rows.Close()

	var out []*rbac.Operation
	for rows.Next() {
		op := &rbac.Operation{}
		if err := rows.Scan(&op.Name, &op.Description, &op.Permanent); err != nil {
			return nil, fmt.Errorf("failed to scan operation: %w", err)
		}
		out = append(out, op)
	}
	return out, rows.Err()
}

func (s *Store) OperationExists(ctx context.Context, name string) (bool, error) {
	return s.exists(ctx, "SELECT COUNT(*) FROM rbac_operations WHERE name = $1", name)
}

// RemoveOperation fails for permanent operations and for operations still
// referenced by a permission
func (s *Store) RemoveOperation(ctx context.Context, name string) (err error) {
	defer s.observe("remove_operation", time.Now(), &err)
	op, err := s.GetOperation(ctx, name)
	if err != nil {
		return err
	}
	if op.Permanent {
		return rbac.Invalid("operation", "cannot remove permanent operation "+name)
	}
	inUse, err := s.exists(ctx, "SELECT COUNT(*) FROM rbac_permissions WHERE operation_name = $1", name)
	if err != nil {
		return err
	}
	if inUse {
		return rbac.Invalid("operation", "operation "+name+" is used by a permission")
	}
	if _, err := s.db.ExecContext(ctx, "DELETE FROM rbac_operations WHERE name = $1", name); err != nil {
		return fmt.Errorf("failed to remove operation: %w", err)
	}
	return nil
}

// Resources

func (s *Store) CreateResource(identifier string) *rbac.Resource {
	return &rbac.Resource{Identifier: identifier}
}

func validateResource(res *rbac.Resource) error {
	if res == nil || strings.TrimSpace(res.Identifier) == "" {
		return rbac.Invalid("resource", "identifier is required")
	}
	return nil
}

func upsertResource(ctx context.Context, q queryer, res *rbac.Resource) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO rbac_resources (identifier, pattern, permanent)
		VALUES ($1, $2, $3)
		ON CONFLICT (identifier) DO UPDATE SET pattern = excluded.pattern, permanent = excluded.permanent`,
		res.Identifier, res.Pattern, res.Permanent,
	)
	if err != nil {
		return fmt.Errorf("failed to save resource %s: %w", res.Identifier, err)
	}
	return nil
}

func (s *Store) SaveResource(ctx context.Context, res *rbac.Resource) (_ *rbac.Resource, err error) {
	defer s.observe("save_resource", time.Now(), &err)
	if err := validateResource(res); err != nil {
		return nil, err
	}
	if err := upsertResource(ctx, s.db, res); err != nil {
		return nil, err
	}
	return res, nil
}

func (s *Store) GetResource(ctx context.Context, identifier string) (_ *rbac.Resource, err error) {
	defer s.observe("get_resource", time.Now(), &err)
	res := &rbac.Resource{}
	err = s.db.QueryRowContext(ctx,
		"SELECT identifier, pattern, permanent FROM rbac_resources WHERE identifier = $1", identifier,
	).Scan(&res.Identifier, &res.Pattern, &res.Permanent)
	if err == sql.ErrNoRows {
		return nil, rbac.NotFound("resource", identifier)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get resource: %w", err)
	}
	return res, nil
}

func (s *Store) GetAllResources(ctx context.Context) (_ []*rbac.Resource, err error) {
	defer s.observe("get_all_resources", time.Now(), &err)
	rows, err := s.db.QueryContext(ctx, "SELECT identifier, pattern, permanent FROM rbac_resources ORDER BY identifier")
	if err != nil {
		return nil, fmt.Errorf("failed to list resources: %w", err)
	}
	defer rows.Close()

	var out []*rbac.Resource
	for rows.Next() {
		res := &rbac.Resource{}
		if err := rows.Scan(&res.Identifier, &res.Pattern, &res.Permanent); err != nil {
			return nil, fmt.Errorf("failed to scan resource: %w", err)
		}
		out = append(out, res)
	}
	return out, rows.Err()
}

func (s *Store) ResourceExists(ctx context.Context, identifier string) (bool, error) {
	return s.exists(ctx, "SELECT COUNT(*) FROM rbac_resources WHERE identifier = $1", identifier)
}

// RemoveResource fails for permanent resources and for resources still
// referenced by a permission
func (s *Store) RemoveResource(ctx context.Context, identifier string) (err error) {
	defer s.observe("remove_resource", time.Now(), &err)
	res, err := s.GetResource(ctx, identifier)
	if err != nil {
		return err
	}
	if res.Permanent {
		return rbac.Invalid("resource", "cannot remove permanent resource "+identifier)
	}
	inUse, err := s.exists(ctx, "SELECT COUNT(*) FROM rbac_permissions WHERE resource_identifier = $1", identifier)
	if err != nil {
		return err
	}
	if inUse {
		return rbac.Invalid("resource", "resource "+identifier+" is used by a permission")
	}
	if _, err := s.db.ExecContext(ctx, "DELETE FROM rbac_resources WHERE identifier = $1", identifier); err != nil {
		return fmt.Errorf("failed to remove resource: %w", err)
	}
	return nil
}

// GetGlobalResource returns the "*" resource, creating it as permanent on first use
func (s *Store) GetGlobalResource(ctx context.Context) (*rbac.Resource, error) {
	res, err := s.GetResource(ctx, rbac.GlobalResourceIdentifier)
	if err == nil {
		return res, nil
	}
	if !rbac.IsNotFound(err) {
		return nil, err
	}
	return s.SaveResource(ctx, &rbac.Resource{Identifier: rbac.GlobalResourceIdentifier, Permanent: true})
}

// Permissions

func (s *Store) CreatePermission(name string) *rbac.Permission {
	return &rbac.Permission{Name: name}
}

// CreatePermissionFor returns the stored permission called name, or a new
// unsaved one bound to the named operation and resource (each looked up
// first and created unsaved when missing)
func (s *Store) CreatePermissionFor(ctx context.Context, name, operationName, resourceIdentifier string) (*rbac.Permission, error) {
	existing, err := s.GetPermission(ctx, name)
	if err == nil {
		return existing, nil
	}
	if !rbac.IsNotFound(err) {
		return nil, err
	}

	op, err := s.GetOperation(ctx, operationName)
	if rbac.IsNotFound(err) {
		op, err = s.CreateOperation(operationName), nil
	}
	if err != nil {
		return nil, err
	}

	var res *rbac.Resource
	if resourceIdentifier == rbac.GlobalResourceIdentifier {
		res, err = s.GetGlobalResource(ctx)
	} else {
		res, err = s.GetResource(ctx, resourceIdentifier)
		if rbac.IsNotFound(err) {
			res, err = s.CreateResource(resourceIdentifier), nil
		}
	}
	if err != nil {
		return nil, err
	}

	return &rbac.Permission{Name: name, Operation: op, Resource: res}, nil
}

func validatePermission(p *rbac.Permission) error {
	if p == nil || strings.TrimSpace(p.Name) == "" {
		return rbac.Invalid("permission", "name is required")
	}
	if p.Operation == nil {
		return rbac.Invalid("permission", "permission "+p.Name+" has no operation")
	}
	if p.Resource == nil {
		return rbac.Invalid("permission", "permission "+p.Name+" has no resource")
	}
	if err := validateOperation(p.Operation); err != nil {
		return err
	}
	return validateResource(p.Resource)
}

// upsertPermission saves the permission together with its operation and resource
func upsertPermission(ctx context.Context, q queryer, p *rbac.Permission) error {
	if err := upsertOperation(ctx, q, p.Operation); err != nil {
		return err
	}
	if err := upsertResource(ctx, q, p.Resource); err != nil {
		return err
	}
	_, err := q.ExecContext(ctx, `
		INSERT INTO rbac_permissions (name, description, operation_name, resource_identifier, permanent)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (name) DO UPDATE SET
			description = excluded.description,
			operation_name = excluded.operation_name,
			resource_identifier = excluded.resource_identifier,
			permanent = excluded.permanent`,
		p.Name, p.Description, p.Operation.Name, p.Resource.Identifier, p.Permanent,
	)
	if err != nil {
		return fmt.Errorf("failed to save permission %s: %w", p.Name, err)
	}
	return nil
}

func (s *Store) SavePermission(ctx context.Context, p *rbac.Permission) (_ *rbac.Permission, err error) {
	defer s.observe("save_permission", time.Now(), &err)
	if err := validatePermission(p); err != nil {
		return nil, err
	}
	err = s.inTx(ctx, func(tx *sql.Tx) error {
		return upsertPermission(ctx, tx, p)
	})
	if err != nil {
		return nil, err
	}
	s.listeners.FirePermissionSaved(p)
	return p, nil
}

func (s *Store) GetPermission(ctx context.Context, name string) (_ *rbac.Permission, err error) {
	defer s.observe("get_permission", time.Now(), &err)
	p, err := scanPermission(s.db.QueryRowContext(ctx,
		"SELECT "+permissionColumns+permissionJoins+" WHERE p.name = $1", name))
	if err == sql.ErrNoRows {
		return nil, rbac.NotFound("permission", name)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get permission: %w", err)
	}
	return p, nil
}

func (s *Store) GetAllPermissions(ctx context.Context) (_ []*rbac.Permission, err error) {
	defer s.observe("get_all_permissions", time.Now(), &err)
	return queryPermissions(ctx, s.db, "SELECT "+permissionColumns+permissionJoins+" ORDER BY p.name")
}

func (s *Store) PermissionExists(ctx context.Context, name string) (bool, error) {
	return s.exists(ctx, "SELECT COUNT(*) FROM rbac_permissions WHERE name = $1", name)
}

// RemovePermission deletes the permission and detaches it from every role
func (s *Store) RemovePermission(ctx context.Context, name string) (err error) {
	defer s.observe("remove_permission", time.Now(), &err)
	p, err := s.GetPermission(ctx, name)
	if err != nil {
		return err
	}
	if p.Permanent {
		return rbac.Invalid("permission", "cannot remove permanent permission "+name)
	}
	err = s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, "DELETE FROM rbac_role_permissions WHERE permission_name = $1", name); err != nil {
			return fmt.Errorf("failed to detach permission: %w", err)
		}
		if _, err := tx.ExecContext(ctx, "DELETE FROM rbac_permissions WHERE name = $1", name); err != nil {
			return fmt.Errorf("failed to remove permission: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}
	s.listeners.FirePermissionRemoved(p)
	return nil
}

func (s *Store) exists(ctx context.Context, query string, args ...interface{}) (bool, error) {
	var count int
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&count); err != nil {
		return false, fmt.Errorf("failed to check existence: %w", err)
	}
	return count > 0, nil
}
