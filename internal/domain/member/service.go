package member

import (
	"context"
	"fmt"

	"txprop/internal/core/apperror"
	"txprop/internal/core/tx"
	"txprop/pkg/logger"
)

// JoinMode selects a join variant.
type JoinMode string

const (
	// JoinSingleTx runs everything in one REQUIRED transaction; a log
	// failure rolls back the member too.
	JoinSingleTx JoinMode = "single_tx"
	// JoinIndependent saves member and log in separate transactions and
	// recovers a log failure.
	JoinIndependent JoinMode = "independent"
	// JoinRecoverRequired recovers a log failure inside one REQUIRED
	// transaction, which ends in an unexpected rollback.
	JoinRecoverRequired JoinMode = "recover_required"
	// JoinRecoverRequiresNew saves the log with REQUIRES_NEW and recovers
	// its failure; the member commits.
	JoinRecoverRequiresNew JoinMode = "recover_requires_new"
)

// ParseJoinMode validates a mode string. Empty means JoinSingleTx.
func ParseJoinMode(s string) (JoinMode, error) {
	switch m := JoinMode(s); m {
	case "":
		return JoinSingleTx, nil
	case JoinSingleTx, JoinIndependent, JoinRecoverRequired, JoinRecoverRequiresNew:
		return m, nil
	}
	return "", apperror.NewValidation(fmt.Sprintf("unknown join mode %q", s))
}

// Service joins members. Every repository call crosses an explicit
// transaction boundary through the interceptor.
type Service struct {
	members Repository
	logs    LogRepository
	tx      *tx.Interceptor
}

// NewService creates a member service. defaults are the type-level
// transaction attributes; per-call attributes override them.
func NewService(members Repository, logs LogRepository, runner tx.Runner, defaults ...tx.Attribute) *Service {
	return &Service{
		members: members,
		logs:    logs,
		tx:      tx.NewInterceptor(runner, defaults...),
	}
}

// Join dispatches to the variant selected by mode.
func (s *Service) Join(ctx context.Context, username string, mode JoinMode) error {
	switch mode {
	case JoinSingleTx, "":
		return s.JoinV1(ctx, username)
	case JoinIndependent:
		return s.JoinV2(ctx, username)
	case JoinRecoverRequired:
		return s.JoinV3(ctx, username)
	case JoinRecoverRequiresNew:
		return s.JoinV4(ctx, username)
	}
	return apperror.NewValidation(fmt.Sprintf("unknown join mode %q", mode))
}

// JoinV1 saves member and log in one transaction.
func (s *Service) JoinV1(ctx context.Context, username string) error {
	m, err := NewMember(username)
	if err != nil {
		return err
	}
	l := NewLog(username)

	return s.tx.Do(ctx, tx.Required().Named("MemberService.JoinV1"), func(ctx context.Context) error {
		if err := s.saveMember(ctx, m); err != nil {
			return err
		}
		return s.saveLog(ctx, l, tx.Required())
	})
}

// JoinV2 has no outer transaction. A failed log save is logged and the
// join still succeeds.
func (s *Service) JoinV2(ctx context.Context, username string) error {
	m, err := NewMember(username)
	if err != nil {
		return err
	}
	l := NewLog(username)

	if err := s.saveMember(ctx, m); err != nil {
		return err
	}
	if err := s.saveLog(ctx, l, tx.Required()); err != nil {
		logger.Info(ctx, "log save failed, continuing", "message", l.Message, "error", err)
	}
	return nil
}

// JoinV3 recovers a failed log save inside the outer transaction. The log
// boundary already marked the shared transaction rollback-only, so the
// outer commit fails with an unexpected rollback and nothing is saved.
func (s *Service) JoinV3(ctx context.Context, username string) error {
	m, err := NewMember(username)
	if err != nil {
		return err
	}
	l := NewLog(username)

	return s.tx.Do(ctx, tx.Required().Named("MemberService.JoinV3"), func(ctx context.Context) error {
		if err := s.saveMember(ctx, m); err != nil {
			return err
		}
		return s.recoverLogFailure(ctx, l, s.saveLog(ctx, l, tx.Required()))
	})
}

// JoinV4 saves the log with REQUIRES_NEW, so its failure rolls back only
// the log and the member commits. Storage errors from the log save are not
// recovered and roll the whole join back; on SQLite the inner insert waits
// for the write lock the outer transaction holds and fails that way.
func (s *Service) JoinV4(ctx context.Context, username string) error {
	m, err := NewMember(username)
	if err != nil {
		return err
	}
	l := NewLog(username)

	return s.tx.Do(ctx, tx.Required().Named("MemberService.JoinV4"), func(ctx context.Context) error {
		if err := s.saveMember(ctx, m); err != nil {
			return err
		}
		return s.recoverLogFailure(ctx, l, s.saveLog(ctx, l, tx.RequiresNew()))
	})
}

// FindMember looks a member up in a read-only transaction.
func (s *Service) FindMember(ctx context.Context, username string) (*Member, error) {
	var m *Member
	err := s.tx.Do(ctx, tx.Required().Named("MemberRepository.FindByUsername").WithReadOnly(true), func(ctx context.Context) error {
		var err error
		m, err = s.members.FindByUsername(ctx, username)
		return err
	})
	return m, err
}

// FindLog looks a log up in a read-only transaction.
func (s *Service) FindLog(ctx context.Context, message string) (*Log, error) {
	var l *Log
	err := s.tx.Do(ctx, tx.Required().Named("LogRepository.FindByMessage").WithReadOnly(true), func(ctx context.Context) error {
		var err error
		l, err = s.logs.FindByMessage(ctx, message)
		return err
	})
	return l, err
}

// recoverLogFailure swallows the simulated log failure and hands every
// other error, storage errors included, back to the caller.
func (s *Service) recoverLogFailure(ctx context.Context, l *Log, err error) error {
	if err == nil {
		return nil
	}
	if !apperror.IsBusinessRule(err) {
		return err
	}
	logger.Info(ctx, "log save failed, continuing", "message", l.Message, "error", err)
	return nil
}

func (s *Service) saveMember(ctx context.Context, m *Member) error {
	return s.tx.Do(ctx, tx.Required().Named("MemberRepository.Save"), func(ctx context.Context) error {
		logger.Info(ctx, "saving member", "username", m.Username)
		return s.members.Save(ctx, m)
	})
}

func (s *Service) saveLog(ctx context.Context, l *Log, attr tx.Attribute) error {
	return s.tx.Do(ctx, attr.Named("LogRepository.Save"), func(ctx context.Context) error {
		logger.Info(ctx, "saving log", "message", l.Message)
		if err := s.logs.Save(ctx, l); err != nil {
			return err
		}
		if l.ShouldFail() {
			return apperror.NewBusinessRule(apperror.CodeBusinessRule, "log save failed").
				WithDetail("message", l.Message)
		}
		return nil
	})
}
