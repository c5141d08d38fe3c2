package identity

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/platinummonkey/coursegate/pkg/enrollment"
	"github.com/platinummonkey/coursegate/pkg/observability"
	"github.com/platinummonkey/coursegate/pkg/trust"
)

// Classifier decides whether an email is trusted
type Classifier interface {
	Classify(ctx context.Context, email, hint string) (trust.Verdict, error)
}

// Enroller is the enrollment primitive used for auto-enrollment
type Enroller interface {
	ActiveOffering(ctx context.Context) (*enrollment.Offering, error)
	Enroll(ctx context.Context, userID, offeringID uuid.UUID, role enrollment.CourseRole) (enrollment.Outcome, *enrollment.Enrollment, error)
}

// Provisioner finds or creates users and changes their role
type Provisioner struct {
	db         *sql.DB
	classifier Classifier
	enroller   Enroller
	logger     *observability.Logger
}

// NewProvisioner creates a provisioner. enroller may be nil to disable
// auto-enrollment.
func NewProvisioner(db *sql.DB, classifier Classifier, enroller Enroller, logger *observability.Logger) *Provisioner {
	if logger == nil {
		logger = observability.NewNopLogger()
	}
	return &Provisioner{
		db:         db,
		classifier: classifier,
		enroller:   enroller,
		logger:     logger,
	}
}

const userColumns = `id, email, display_name, primary_role, institution, COALESCE(provider_subject_id, ''), created_at, updated_at`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanUser(row rowScanner) (*User, error) {
	u := &User{}
	err := row.Scan(&u.ID, &u.Email, &u.DisplayName, &u.Role, &u.Institution, &u.SubjectID, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return u, nil
}

// FindOrCreate returns the active user for email, creating one when none
// exists. New users are unregistered unless opts.ExplicitRole is set.
func (p *Provisioner) FindOrCreate(ctx context.Context, email string, opts Options) (*User, error) {
	email = trust.NormalizeEmail(email)

	user, err := p.GetByEmail(ctx, email)
	if err == nil {
		if user.SubjectID == "" && opts.SubjectID != "" {
			p.backfillSubject(ctx, user, opts.SubjectID)
		}
		return user, nil
	}
	if !errors.Is(err, ErrUserNotFound) {
		return nil, err
	}

	verdict, err := p.classifier.Classify(ctx, email, opts.DomainHint)
	if err != nil {
		return nil, fmt.Errorf("failed to classify identity: %w", err)
	}
	if !verdict.Bypass() {
		return nil, ErrUntrustedIdentity
	}

	role := RoleUnregistered
	if opts.ExplicitRole != "" {
		if !opts.ExplicitRole.Valid() {
			return nil, fmt.Errorf("%w: %q", ErrInvalidRole, opts.ExplicitRole)
		}
		role = opts.ExplicitRole
	}

	displayName := opts.DisplayName
	if displayName == "" {
		displayName = email
	}

	// Concurrent first logins converge on one row.
	var deleted bool
	user = &User{}
	err = p.db.QueryRowContext(ctx, `
		INSERT INTO users (email, display_name, primary_role, institution, provider_subject_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, NULLIF($5, ''), NOW(), NOW())
		ON CONFLICT (email) DO UPDATE
		SET provider_subject_id = COALESCE(users.provider_subject_id, EXCLUDED.provider_subject_id),
			updated_at = NOW()
		RETURNING `+userColumns+`, deleted_at IS NOT NULL
	`, email, displayName, role, verdict.Institution(), opts.SubjectID).Scan(
		&user.ID, &user.Email, &user.DisplayName, &user.Role, &user.Institution,
		&user.SubjectID, &user.CreatedAt, &user.UpdatedAt, &deleted,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create user: %w", err)
	}
	if deleted {
		return nil, ErrUserDeactivated
	}

	p.logger.WithFields(map[string]interface{}{
		"user_id":     user.ID.String(),
		"role":        string(user.Role),
		"institution": user.Institution,
	}).Info("provisioned user")

	if user.Role == RoleStudent {
		p.autoEnroll(ctx, user)
	}
	return user, nil
}

func (p *Provisioner) backfillSubject(ctx context.Context, user *User, subjectID string) {
	_, err := p.db.ExecContext(ctx, `
		UPDATE users SET provider_subject_id = $1, updated_at = NOW()
		WHERE id = $2 AND provider_subject_id IS NULL
	`, subjectID, user.ID)
	if err != nil {
		p.logger.WithError(err).WithField("user_id", user.ID.String()).Warn("failed to backfill provider subject id")
		return
	}
	user.SubjectID = subjectID
}

// GetByEmail returns the active user with email
func (p *Provisioner) GetByEmail(ctx context.Context, email string) (*User, error) {
	row := p.db.QueryRowContext(ctx, `
		SELECT `+userColumns+`
		FROM users
		WHERE email = $1 AND deleted_at IS NULL
	`, trust.NormalizeEmail(email))
	user, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return user, nil
}

// GetByID returns the active user with id
func (p *Provisioner) GetByID(ctx context.Context, id uuid.UUID) (*User, error) {
	row := p.db.QueryRowContext(ctx, `
		SELECT `+userColumns+`
		FROM users
		WHERE id = $1 AND deleted_at IS NULL
	`, id)
	user, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return user, nil
}

// StoredRole reports the primary role of an active user. ok is false for
// unknown and deactivated users.
func (p *Provisioner) StoredRole(ctx context.Context, userID string) (string, bool, error) {
	id, err := uuid.Parse(userID)
	if err != nil {
		return "", false, nil
	}
	user, err := p.GetByID(ctx, id)
	if errors.Is(err, ErrUserNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return string(user.Role), true, nil
}

// SetRole changes a user's primary role. Administrative.
func (p *Provisioner) SetRole(ctx context.Context, id uuid.UUID, role Role) (*User, error) {
	if !role.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidRole, role)
	}
	return p.changeRole(ctx, id, role, nil)
}

// Register is self-registration: an unregistered user becomes a student
func (p *Provisioner) Register(ctx context.Context, id uuid.UUID, role Role) (*User, error) {
	if role != RoleStudent {
		return nil, fmt.Errorf("%w: cannot self-register as %q", ErrInvalidTransition, role)
	}
	return p.changeRole(ctx, id, role, func(current Role) error {
		if current != RoleUnregistered {
			return fmt.Errorf("%w: already registered as %q", ErrInvalidTransition, current)
		}
		return nil
	})
}

func (p *Provisioner) changeRole(ctx context.Context, id uuid.UUID, role Role, allow func(current Role) error) (*User, error) {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var current Role
	err = tx.QueryRowContext(ctx, `
		SELECT primary_role FROM users
		WHERE id = $1 AND deleted_at IS NULL
		FOR UPDATE
	`, id).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user role: %w", err)
	}

	if allow != nil {
		if err := allow(current); err != nil {
			return nil, err
		}
	}

	user, err := scanUser(tx.QueryRowContext(ctx, `
		UPDATE users SET primary_role = $1, updated_at = NOW()
		WHERE id = $2
		RETURNING `+userColumns, role, id))
	if err != nil {
		return nil, fmt.Errorf("failed to update role: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit role change: %w", err)
	}

	p.logger.WithFields(map[string]interface{}{
		"user_id":  id.String(),
		"old_role": string(current),
		"new_role": string(role),
	}).Info("user role changed")

	if role == RoleStudent && current != RoleStudent {
		p.autoEnroll(ctx, user)
	}
	return user, nil
}

// autoEnroll enrolls a new student into the active offering. Failures are
// logged only.
func (p *Provisioner) autoEnroll(ctx context.Context, user *User) {
	if p.enroller == nil {
		return
	}
	logger := p.logger.WithField("user_id", user.ID.String())

	offering, err := p.enroller.ActiveOffering(ctx)
	if errors.Is(err, enrollment.ErrOfferingNotFound) {
		logger.Warn("no active course offering for auto-enrollment")
		return
	}
	if err != nil {
		logger.WithError(err).Error("failed to look up active offering for auto-enrollment")
		return
	}

	outcome, _, err := p.enroller.Enroll(ctx, user.ID, offering.ID, enrollment.RoleStudent)
	if err != nil {
		logger.WithError(err).WithField("offering_id", offering.ID.String()).Error("auto-enrollment failed")
		return
	}
	logger.WithFields(map[string]interface{}{
		"offering_id": offering.ID.String(),
		"outcome":     string(outcome),
	}).Info("auto-enrolled student")
}
