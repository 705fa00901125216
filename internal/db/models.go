package db

import (
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
)

type User struct {
	ID             uuid.UUID
	Email          string
	IsPlatformUser bool
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

type Team struct {
	ID         uuid.UUID
	Name       string
	IdpManaged bool
	CreatedAt  time.Time
}

type TeamMember struct {
	TeamID uuid.UUID
	UserID uuid.UUID
	Role   string // owner | member
}

type Project struct {
	ID                    uuid.UUID
	Name                  string
	Status                string
	AccessClass           string
	OwnerUserID           pgtype.UUID
	OwnerTeamID           pgtype.UUID
	Finalizers            []string
	PullSecretRefreshedAt pgtype.Timestamptz
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

type Deployment struct {
	ID                        uuid.UUID
	DeploymentSlug            string
	ProjectID                 uuid.UUID
	CreatedByID               uuid.UUID
	DeploymentGroup           string
	Status                    string
	IsActive                  bool
	HTTPPort                  int32
	Image                     pgtype.Text
	ImageDigest               pgtype.Text
	ControllerMetadata        []byte // JSON
	RolledBackFromDeployment  pgtype.UUID
	ExpiresAt                 pgtype.Timestamptz
	NeedsReconcile            bool
	DeployingStartedAt        pgtype.Timestamptz
	TerminationReason         pgtype.Text
	CreatedAt                 time.Time
	UpdatedAt                 time.Time
}

type EnvVar struct {
	ID             uuid.UUID
	ProjectID      uuid.UUID
	DeploymentID   pgtype.UUID // null => project-scoped
	Key            string
	Value          []byte // ciphertext if IsSecret
	IsSecret       bool
	IsProtected    bool
	IsRetrievable  bool
	EncryptionMeta []byte // JSON: provider, key id, nonce, etc.
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

type ServiceAccount struct {
	ID         uuid.UUID
	ProjectID  uuid.UUID
	Identifier string
	IssuerURL  string
	Claims     map[string]string
	DeletedAt  pgtype.Timestamptz
	CreatedAt  time.Time
}

type ProjectExtension struct {
	ProjectID     uuid.UUID
	Name          string
	ExtensionType string
	Spec          []byte // JSON
	Status        []byte // JSON
	DeletedAt     pgtype.Timestamptz
	LeaseUntil    pgtype.Timestamptz
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

type CustomDomain struct {
	ID        uuid.UUID
	ProjectID uuid.UUID
	Domain    string
	IsPrimary bool
	CreatedAt time.Time
}

type AuditLogEntry struct {
	ID               uuid.UUID
	ActorUserID      pgtype.UUID
	ActorSAID        pgtype.UUID
	ProjectID        pgtype.UUID
	Action           string
	Resource         string
	ResourceID       pgtype.UUID
	Detail           []byte
	IPAddress        *string
	UserAgent        *string
	CreatedAt        time.Time
}
