package application

import "time"

// Test hooks for the external application_test package.

func (s *TokenService) SetRetryDelay(d time.Duration) { s.retryDelay = d }

func (s *TokenService) SetClock(now func() time.Time) { s.now = now }

func (s *ConnectService) SetClock(now func() time.Time) { s.now = now }

func (s *ExportService) SetClock(now func() time.Time) { s.now = now }

func (s *ShareSigner) SetClock(now func() time.Time) { s.now = now }

func (s *VaultService) SetCompare(fn func(hash, password []byte) error) { s.compare = fn }

func (s *VaultService) DummyHash() []byte { return s.dummy }

const MaxOutput = maxOutput
