package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"clinic-secops/internal/encryption"
	"clinic-secops/internal/hashing"
	"clinic-secops/internal/metrics"
	"clinic-secops/internal/models"
	"clinic-secops/internal/repository/sqlite"
	"clinic-secops/internal/util"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
	"go.uber.org/zap"
)

const (
	backupCodeCount  = 10
	backupCodeLength = 8
	totpPeriod       = 30
	totpSkew         = 1
	totpSecretBytes  = 20
	// a code stays valid for (2*skew+1) periods
	replayWindow = (2*totpSkew + 1) * totpPeriod * time.Second
)

var totpOpts = totp.ValidateOpts{
	Period:    totpPeriod,
	Skew:      totpSkew,
	Digits:    otp.DigitsSix,
	Algorithm: otp.AlgorithmSHA1,
}

type TwoFactorSetup struct {
	Method        string `json:"method"`
	Secret        string `json:"secret"`
	EnrollmentURI string `json:"qr_code_url"`
	Message       string `json:"message"`
}

type TwoFactorEnabled struct {
	Enabled     bool     `json:"enabled"`
	BackupCodes []string `json:"backup_codes"`
	Message     string   `json:"message"`
}

type BackupCodeResult struct {
	Valid     bool `json:"valid"`
	Remaining int  `json:"remaining_codes"`
}

// TwoFactorService owns TOTP enrollment: pending secret, verification, backup codes.
type TwoFactorService struct {
	credentials *sqlite.TwoFactorRepository
	directory   Directory
	encryption  *encryption.EncryptionManager
	hasher      *hashing.Hasher
	replay      ReplayGuard
	audit       *AuditService
	issuer      string
	metrics     *metrics.Metrics
	logger      *zap.Logger
	now         func() time.Time
}

func NewTwoFactorService(
	credentials *sqlite.TwoFactorRepository,
	directory Directory,
	encryptionMgr *encryption.EncryptionManager,
	hasher *hashing.Hasher,
	replay ReplayGuard,
	audit *AuditService,
	issuer string,
	m *metrics.Metrics,
	logger *zap.Logger,
	now func() time.Time,
) *TwoFactorService {
	return &TwoFactorService{
		credentials: credentials,
		directory:   directory,
		encryption:  encryptionMgr,
		hasher:      hasher,
		replay:      replay,
		audit:       audit,
		issuer:      issuer,
		metrics:     m,
		logger:      logger,
		now:         now,
	}
}

// BeginSetup stores a fresh pending secret, replacing any earlier pending one.
func (s *TwoFactorService) BeginSetup(ctx context.Context, principalID string) (*TwoFactorSetup, error) {
	principal, err := s.directory.GetPrincipal(ctx, principalID)
	if errors.Is(err, sqlite.ErrNotFound) {
		return nil, newError(ErrNotFound, "User not found")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load principal: %w", err)
	}

	account := principal.Email
	if account == "" {
		account = principal.ID
	}
	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      s.issuer,
		AccountName: account,
		Period:      totpPeriod,
		SecretSize:  totpSecretBytes,
		Digits:      otp.DigitsSix,
		Algorithm:   otp.AlgorithmSHA1,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to generate secret: %w", err)
	}

	sealed, err := s.encryption.EncryptField(ctx, key.Secret())
	if err != nil {
		return nil, fmt.Errorf("failed to seal secret: %w", err)
	}
	err = s.credentials.UpsertPending(ctx, &models.TwoFactorCredential{
		PrincipalID:      principalID,
		Method:           models.MethodTOTP,
		SecretCiphertext: sealed.EncryptedValue,
		SecretDEK:        sealed.EncryptedDEK,
		SecretKeyID:      sealed.KeyID,
	}, s.now().UTC())
	if errors.Is(err, sqlite.ErrAlreadyEnabled) {
		return nil, newError(ErrValidation, "2FA is already enabled. Disable it before setting up again.")
	}
	if err != nil {
		return nil, err
	}

	s.record(ctx, principalID, "setup_2fa", true, nil)
	return &TwoFactorSetup{
		Method:        models.MethodTOTP,
		Secret:        key.Secret(),
		EnrollmentURI: key.URL(),
		Message:       "Scan QR code with authenticator app",
	}, nil
}

// Verify enables the pending enrollment when code matches the stored secret and issues
// a fresh batch of backup codes.
func (s *TwoFactorService) Verify(ctx context.Context, principalID, code string) (*TwoFactorEnabled, error) {
	code = strings.TrimSpace(code)
	if !util.IsDigits(code, 6) {
		return nil, newError(ErrInvalidCode, "Invalid verification code format")
	}

	cred, err := s.credentials.Get(ctx, principalID, models.MethodTOTP)
	if errors.Is(err, sqlite.ErrNotFound) || (err == nil && cred.State != models.TwoFactorPending) {
		return nil, newError(ErrNotConfigured, "2FA not set up. Please run setup first.")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load two-factor credential: %w", err)
	}

	secret, err := s.encryption.DecryptField(ctx, &encryption.EncryptedData{
		EncryptedValue: cred.SecretCiphertext,
		EncryptedDEK:   cred.SecretDEK,
		KeyID:          cred.SecretKeyID,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open secret: %w", err)
	}

	now := s.now().UTC()
	valid, err := totp.ValidateCustom(code, secret, now, totpOpts)
	if err != nil || !valid {
		s.metrics.TwoFactorResults.WithLabelValues("totp", "rejected").Inc()
		s.record(ctx, principalID, "verify_2fa", false, nil)
		return nil, newError(ErrInvalidCode, "Invalid verification code")
	}
	if !s.claimCode(ctx, principalID, code) {
		s.metrics.TwoFactorResults.WithLabelValues("totp", "replayed").Inc()
		return nil, newError(ErrInvalidCode, "Verification code already used")
	}

	codes, hashes, err := s.newBackupCodes()
	if err != nil {
		return nil, err
	}
	err = s.credentials.Enable(ctx, principalID, models.MethodTOTP, cred.SecretCiphertext, hashes, now)
	if errors.Is(err, sqlite.ErrConflict) {
		return nil, newError(ErrNotConfigured, "2FA setup changed. Please run setup again.")
	}
	if err != nil {
		return nil, err
	}

	s.metrics.TwoFactorResults.WithLabelValues("totp", "accepted").Inc()
	s.record(ctx, principalID, "verify_2fa", true, nil)
	return &TwoFactorEnabled{
		Enabled:     true,
		BackupCodes: codes,
		Message:     "2FA enabled successfully. Save your backup codes in a secure location.",
	}, nil
}

// claimCode refuses a code already accepted inside its validity window. A guard outage
// is logged and the code is accepted.
func (s *TwoFactorService) claimCode(ctx context.Context, principalID, code string) bool {
	if s.replay == nil {
		return true
	}
	ok, err := s.replay.Claim(ctx, "totp:"+principalID+":"+code, replayWindow)
	if err != nil {
		s.logger.Warn("Replay guard unavailable", util.Principal(principalID), zap.Error(err))
		return true
	}
	return ok
}

// ConsumeBackupCode removes one matching unused code. The delete is the check.
func (s *TwoFactorService) ConsumeBackupCode(ctx context.Context, principalID, code string) (*BackupCodeResult, error) {
	normalized := strings.ToUpper(strings.TrimSpace(code))
	if len(normalized) != backupCodeLength {
		return nil, newError(ErrInvalidCode, "Invalid backup code")
	}

	remaining, err := s.credentials.ConsumeBackupCode(ctx, principalID, models.MethodTOTP,
		s.hasher.Digest(hashing.ContextBackupCode, normalized))
	if errors.Is(err, sqlite.ErrNotFound) {
		s.metrics.TwoFactorResults.WithLabelValues("backup_code", "rejected").Inc()
		s.record(ctx, principalID, "use_backup_code", false, nil)
		return nil, newError(ErrInvalidCode, "Invalid backup code")
	}
	if err != nil {
		return nil, err
	}

	s.metrics.TwoFactorResults.WithLabelValues("backup_code", "accepted").Inc()
	s.record(ctx, principalID, "use_backup_code", true, map[string]interface{}{"remaining_codes": remaining})
	return &BackupCodeResult{Valid: true, Remaining: remaining}, nil
}

func (s *TwoFactorService) Disable(ctx context.Context, principalID string) error {
	err := s.credentials.Disable(ctx, principalID, models.MethodTOTP, s.now().UTC())
	if errors.Is(err, sqlite.ErrNotFound) {
		return newError(ErrNotConfigured, "2FA is not set up")
	}
	if err != nil {
		return err
	}
	s.record(ctx, principalID, "disable_2fa", true, nil)
	return nil
}

// RegenerateBackupCodes replaces the whole batch of an enabled enrollment.
func (s *TwoFactorService) RegenerateBackupCodes(ctx context.Context, principalID string) ([]string, error) {
	codes, hashes, err := s.newBackupCodes()
	if err != nil {
		return nil, err
	}
	err = s.credentials.ReplaceBackupCodes(ctx, principalID, models.MethodTOTP, hashes, s.now().UTC())
	if errors.Is(err, sqlite.ErrNotFound) || errors.Is(err, sqlite.ErrConflict) {
		return nil, newError(ErrNotConfigured, "2FA must be enabled to regenerate backup codes")
	}
	if err != nil {
		return nil, err
	}
	s.record(ctx, principalID, "regenerate_backup_codes", true, nil)
	return codes, nil
}

func (s *TwoFactorService) GetStatus(ctx context.Context, principalID string) (*models.TwoFactorStatus, error) {
	creds, err := s.credentials.ListByPrincipal(ctx, principalID)
	if err != nil {
		return nil, fmt.Errorf("failed to load two-factor status: %w", err)
	}
	status := &models.TwoFactorStatus{Methods: []models.TwoFactorMethodStatus{}}
	for _, c := range creds {
		status.Methods = append(status.Methods, models.TwoFactorMethodStatus{
			Method:     c.Method,
			IsEnabled:  c.Enabled(),
			State:      c.State,
			VerifiedAt: c.VerifiedAt,
		})
		if c.Enabled() {
			status.Enabled = true
		}
	}
	return status, nil
}

func (s *TwoFactorService) newBackupCodes() ([]string, []string, error) {
	codes := make([]string, 0, backupCodeCount)
	hashes := make([]string, 0, backupCodeCount)
	for len(codes) < backupCodeCount {
		code, err := hashing.RandomString(hashing.UpperAlphanumeric, backupCodeLength)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to generate backup code: %w", err)
		}
		if containsString(codes, code) {
			continue
		}
		codes = append(codes, code)
		hashes = append(hashes, s.hasher.Digest(hashing.ContextBackupCode, code))
	}
	return codes, hashes, nil
}

func (s *TwoFactorService) record(ctx context.Context, principalID, action string, success bool, metadata map[string]interface{}) {
	s.audit.recordQuietly(ctx, AuditRecord{
		EventType:    models.EventTwoFactor,
		ActorID:      principalID,
		Action:       action,
		ResourceType: ResourceTwoFactor,
		ResourceID:   principalID,
		Success:      boolPtr(success),
		Metadata:     metadata,
	})
}
