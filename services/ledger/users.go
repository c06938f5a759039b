package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// UserInput is the payload of a new account.
type UserInput struct {
	Email    string
	Password string
	Name     string
	Phone    string
	Role     Role
}

func (in *UserInput) normalize() {
	in.Email = normalizeEmail(in.Email)
	in.Name = strings.TrimSpace(in.Name)
	in.Phone = strings.TrimSpace(in.Phone)
}

func checkRole(v *violations, field string, r Role) {
	switch r {
	case RoleAdmin, RoleOperator:
	default:
		v.add(field, "must be ADMIN or OPERATOR")
	}
}

func (in UserInput) validate() error {
	var v violations
	checkEmail(&v, "email", in.Email)
	if len(in.Password) < minPasswordLen {
		v.add("password", fmt.Sprintf("must be at least %d characters", minPasswordLen))
	}
	requireText(&v, "name", in.Name, maxNameLength)
	checkPhone(&v, "phone", in.Phone, false)
	checkRole(&v, "role", in.Role)
	return v.err()
}

// UserPatch changes selected fields of an account.
type UserPatch struct {
	Email    *string
	Password *string
	Name     *string
	Phone    *string
	Role     *Role
	IsActive *bool
}

func (p UserPatch) validate() error {
	var v violations
	if p.Email != nil {
		checkEmail(&v, "email", normalizeEmail(*p.Email))
	}
	if p.Password != nil && len(*p.Password) < minPasswordLen {
		v.add("password", fmt.Sprintf("must be at least %d characters", minPasswordLen))
	}
	if p.Name != nil {
		requireText(&v, "name", *p.Name, maxNameLength)
	}
	if p.Phone != nil {
		checkPhone(&v, "phone", *p.Phone, false)
	}
	if p.Role != nil {
		checkRole(&v, "role", *p.Role)
	}
	return v.err()
}

// authorize applies the account rules: admins edit anyone but cannot demote
// or deactivate themselves, others may only edit their own profile fields.
func (p UserPatch) authorize(actor Actor, target uuid.UUID) error {
	self := actor.ID == target
	switch actor.Role {
	case RoleAdmin:
		if self && p.Role != nil && *p.Role != RoleAdmin {
			return forbidden("cannot remove your own admin role")
		}
		if self && p.IsActive != nil && !*p.IsActive {
			return forbidden("cannot deactivate your own account")
		}
		return nil
	case RoleOperator:
		if !self {
			return forbidden("admin role required")
		}
		if p.Role != nil || p.IsActive != nil {
			return forbidden("cannot change your own role or status")
		}
		return nil
	default:
		return unauthenticated("unknown role")
	}
}

func ensureEmailFree(tx *gorm.DB, email string, except uuid.UUID) error {
	var n int64
	err := tx.Model(&userModel{}).
		Where("users.email = ? AND users.id <> ?", email, except).
		Count(&n).Error
	if err != nil {
		return err
	}
	if n > 0 {
		return conflictf("email already exists")
	}
	return nil
}

// CreateUser adds an active account.
func (s *Service) CreateUser(ctx context.Context, actor Actor, in UserInput) (User, error) {
	if _, err := ScopeFor(actor, ResourceUser); err != nil {
		return User{}, err
	}
	in.normalize()
	if err := in.validate(); err != nil {
		return User{}, err
	}
	hash, err := s.creds.Hash(in.Password)
	if err != nil {
		return User{}, &Error{Kind: KindInternal, Message: "internal error", Err: err}
	}

	return Execute(ctx, s.coord, Mutation[User]{
		Action: ActionUserCreated,
		Actor:  actor,
		Apply: func(ctx context.Context, tx *gorm.DB) (User, error) {
			if err := ensureEmailFree(tx, in.Email, uuid.Nil); err != nil {
				return User{}, err
			}
			m := userModel{
				ID:           uuid.New(),
				Email:        in.Email,
				PasswordHash: hash,
				Name:         in.Name,
				Phone:        in.Phone,
				Role:         string(in.Role),
				IsActive:     true,
			}
			if err := tx.Create(&m).Error; err != nil {
				return User{}, err
			}
			return m.toDomain(), nil
		},
		Audit: func(u User) AuditSpec {
			return AuditSpec{
				Action:      ActionUserCreated,
				EntityType:  EntityUser,
				EntityID:    &u.ID,
				Description: fmt.Sprintf("Created %s account %s", u.Role, u.Email),
				Metadata:    map[string]any{"email": u.Email, "role": string(u.Role)},
			}
		},
	})
}

// UpdateUser changes an account. Users are never physically deleted;
// clearing IsActive is the only way to retire one.
func (s *Service) UpdateUser(ctx context.Context, actor Actor, id uuid.UUID, patch UserPatch) (User, error) {
	if err := patch.validate(); err != nil {
		return User{}, err
	}
	if err := patch.authorize(actor, id); err != nil {
		return User{}, err
	}

	var hash string
	if patch.Password != nil {
		h, err := s.creds.Hash(*patch.Password)
		if err != nil {
			return User{}, &Error{Kind: KindInternal, Message: "internal error", Err: err}
		}
		hash = h
	}

	type updated struct {
		user    User
		changes map[string]map[string]any
	}

	out, err := Execute(ctx, s.coord, Mutation[updated]{
		Action: ActionUserUpdated,
		Actor:  actor,
		Apply: func(ctx context.Context, tx *gorm.DB) (updated, error) {
			var m userModel
			err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).Where("users.id = ?", id).First(&m).Error
			switch {
			case errors.Is(err, gorm.ErrRecordNotFound):
				return updated{}, notFound("user")
			case err != nil:
				return updated{}, err
			}
			before := m.snapshot()

			if patch.Email != nil {
				email := normalizeEmail(*patch.Email)
				if email != m.Email {
					if err := ensureEmailFree(tx, email, id); err != nil {
						return updated{}, err
					}
				}
				m.Email = email
			}
			if patch.Name != nil {
				m.Name = strings.TrimSpace(*patch.Name)
			}
			if patch.Phone != nil {
				m.Phone = strings.TrimSpace(*patch.Phone)
			}
			if patch.Role != nil {
				m.Role = string(*patch.Role)
			}
			if patch.IsActive != nil {
				m.IsActive = *patch.IsActive
			}

			cols := map[string]any{
				"email":     m.Email,
				"name":      m.Name,
				"phone":     m.Phone,
				"role":      m.Role,
				"is_active": m.IsActive,
			}
			if hash != "" {
				cols["password_hash"] = hash
			}
			if err := tx.Model(&userModel{}).Where("users.id = ?", id).Updates(cols).Error; err != nil {
				return updated{}, err
			}

			changes := computeDiff(before, m.snapshot())
			if hash != "" {
				changes["password"] = map[string]any{"old": nil, "new": "changed"}
			}
			return updated{user: m.toDomain(), changes: changes}, nil
		},
		Audit: func(u updated) AuditSpec {
			return AuditSpec{
				Action:      ActionUserUpdated,
				EntityType:  EntityUser,
				EntityID:    &u.user.ID,
				Description: fmt.Sprintf("Updated account %s", u.user.Email),
				Metadata:    map[string]any{"changes": u.changes},
			}
		},
	})
	if err != nil {
		return User{}, err
	}
	return out.user, nil
}

// ListUsers returns every account ordered by creation time.
func (s *Service) ListUsers(ctx context.Context, actor Actor) ([]User, error) {
	if _, err := ScopeFor(actor, ResourceUser); err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var rows []userModel
	if err := s.store.ORM.WithContext(ctx).Order("users.created_at ASC").Find(&rows).Error; err != nil {
		return nil, classify(err)
	}
	out := make([]User, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toDomain())
	}
	return out, nil
}

// LoginRequest carries credentials and the origin of a sign-in attempt.
type LoginRequest struct {
	Email     string
	Password  string
	IPAddress string
	UserAgent string
}

// Login verifies credentials and stamps last_login. Unknown emails and wrong
// passwords are indistinguishable to the caller.
func (s *Service) Login(ctx context.Context, req LoginRequest) (User, error) {
	email := normalizeEmail(req.Email)
	origin := Actor{IPAddress: req.IPAddress, UserAgent: req.UserAgent}

	lookupCtx, cancel := context.WithTimeout(ctx, s.timeout)
	var m userModel
	err := s.store.ORM.WithContext(lookupCtx).Where("users.email = ?", email).First(&m).Error
	cancel()
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		s.creds.Verify(req.Password, s.decoy())
		s.recordLoginFailure(ctx, origin, nil, email, "unknown email")
		return User{}, unauthenticated("invalid email or password")
	case err != nil:
		return User{}, classify(err)
	}

	if !s.creds.Verify(req.Password, m.PasswordHash) {
		s.recordLoginFailure(ctx, origin, &m.ID, email, "wrong password")
		return User{}, unauthenticated("invalid email or password")
	}
	if !m.IsActive {
		s.recordLoginFailure(ctx, origin, &m.ID, email, "inactive account")
		return User{}, forbidden("account is inactive")
	}

	actor := Actor{ID: m.ID, Role: Role(m.Role), Name: m.Name, IPAddress: req.IPAddress, UserAgent: req.UserAgent}
	return Execute(ctx, s.coord, Mutation[User]{
		Action: ActionUserLogin,
		Actor:  actor,
		Apply: func(ctx context.Context, tx *gorm.DB) (User, error) {
			now := s.now().UTC()
			res := tx.Model(&userModel{}).
				Where("users.id = ? AND users.is_active = ?", m.ID, true).
				Update("last_login", now)
			if res.Error != nil {
				return User{}, res.Error
			}
			if res.RowsAffected == 0 {
				return User{}, forbidden("account is inactive")
			}
			m.LastLogin = &now
			return m.toDomain(), nil
		},
		Audit: func(u User) AuditSpec {
			return AuditSpec{
				Action:      ActionUserLogin,
				EntityType:  EntityUser,
				EntityID:    &u.ID,
				Description: fmt.Sprintf("%s signed in", u.Email),
				Metadata:    map[string]any{"email": u.Email},
			}
		},
	})
}

func (s *Service) recordLoginFailure(ctx context.Context, origin Actor, userID *uuid.UUID, email, reason string) {
	s.audit.Record(ctx, origin, AuditSpec{
		Action:      ActionUserLoginFailed,
		EntityType:  EntityUser,
		EntityID:    userID,
		Description: fmt.Sprintf("Failed sign-in for %s", email),
		Metadata:    map[string]any{"email": email, "reason": reason},
	})
}

// ResolveIdentity turns a validated token subject into an Actor, re-reading
// the account so revoked or changed accounts stop working immediately.
func (s *Service) ResolveIdentity(ctx context.Context, id uuid.UUID, claimed Role, ip, userAgent string) (Actor, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var m userModel
	err := s.store.ORM.WithContext(ctx).Where("users.id = ?", id).First(&m).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		return Actor{}, unauthenticated("account no longer exists")
	case err != nil:
		return Actor{}, classify(err)
	}
	if !m.IsActive {
		return Actor{}, unauthenticated("account is inactive")
	}

	role, err := ParseRole(m.Role)
	if err != nil {
		return Actor{}, &Error{Kind: KindInternal, Message: "internal error", Err: err}
	}
	if role != claimed {
		return Actor{}, unauthenticated("role changed; sign in again")
	}

	return Actor{ID: m.ID, Role: role, Name: m.Name, IPAddress: ip, UserAgent: userAgent}, nil
}
