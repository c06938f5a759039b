package ledger

import (
	"errors"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"gorm.io/gorm"
)

// Store holds the shared store handles. Both are opened once at process
// start and share one connection pool.
type Store struct {
	DB  *pgxpool.Pool
	ORM *gorm.DB
}

// CredentialService hashes and verifies account secrets.
type CredentialService interface {
	Hash(secret string) (string, error)
	Verify(secret, hash string) bool
}

// Options configures a Service. The zero value of Logger discards output and
// a nil Registerer leaves the metrics unregistered.
type Options struct {
	Credentials     CredentialService
	Notifier        Dispatcher
	Location        *time.Location
	Logger          zerolog.Logger
	Registerer      prometheus.Registerer
	Now             func() time.Time
	MutationTimeout time.Duration
	QueryTimeout    time.Duration
}

// Service exposes donation, category, user, audit and analytics operations.
type Service struct {
	store    *Store
	coord    *Coordinator
	audit    *AuditTrail
	creds    CredentialService
	notifier Dispatcher
	loc      *time.Location
	log      zerolog.Logger
	now      func() time.Time
	timeout  time.Duration

	decoyOnce sync.Once
	decoyHash string
}

// New wires a Service around store.
func New(store *Store, opts Options) (*Service, error) {
	if store == nil {
		return nil, errors.New("store is required")
	}
	if store.ORM == nil {
		return nil, errors.New("store ORM is required")
	}
	if store.DB == nil {
		return nil, errors.New("store pool is required")
	}
	if opts.Credentials == nil {
		return nil, errors.New("credential service is required")
	}

	if opts.Notifier == nil {
		opts.Notifier = nopDispatcher{}
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.MutationTimeout <= 0 {
		opts.MutationTimeout = defaultMutationTimeout
	}
	if opts.QueryTimeout <= 0 {
		opts.QueryTimeout = defaultMutationTimeout
	}

	m, err := newMetrics(opts.Registerer)
	if err != nil {
		return nil, err
	}

	audit := &AuditTrail{
		orm:     store.ORM,
		pool:    store.DB,
		log:     opts.Logger,
		metrics: m,
		now:     opts.Now,
		timeout: opts.QueryTimeout,
	}

	return &Service{
		store: store,
		coord: &Coordinator{
			orm:     store.ORM,
			audit:   audit,
			log:     opts.Logger,
			metrics: m,
			timeout: opts.MutationTimeout,
		},
		audit:    audit,
		creds:    opts.Credentials,
		notifier: opts.Notifier,
		loc:      opts.Location,
		log:      opts.Logger,
		now:      opts.Now,
		timeout:  opts.QueryTimeout,
	}, nil
}

// Audit returns the audit trail used by the service.
func (s *Service) Audit() *AuditTrail { return s.audit }

// Coordinator returns the mutation coordinator used by the service.
func (s *Service) Coordinator() *Coordinator { return s.coord }

// decoy returns a hash compared against when a login names no account, so
// unknown and known emails cost the same verification work.
func (s *Service) decoy() string {
	s.decoyOnce.Do(func() {
		hash, err := s.creds.Hash("donatrack-unknown-account")
		if err != nil {
			s.log.Warn().Err(err).Msg("hash login decoy")
			return
		}
		s.decoyHash = hash
	})
	return s.decoyHash
}
