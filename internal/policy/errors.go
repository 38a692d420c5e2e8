package policy

import "errors"

var (
	ErrInvalidNamespace        = errors.New("policy: invalid namespace")
	ErrNoClusterService        = errors.New("policy: no cluster service available")
	ErrAmbiguousClusterService = errors.New("policy: more than one cluster service available")
	ErrConflictingProvider     = errors.New("policy: both a provider and a provider name were given")
	ErrNoEngine                = errors.New("policy: no engine bound")
	ErrPolicyReleased          = errors.New("policy: released")
	ErrNilView                 = errors.New("policy: nil view")
)
