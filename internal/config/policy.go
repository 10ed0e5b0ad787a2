package config

import (
	"errors"
	"log"
	"strings"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// Policy is the operational scheduling policy. It is hot-reloadable so lead
// days or the failover switch can be changed without redeploying.
type Policy struct {
	CardLeadDays        int  `mapstructure:"cardLeadDays"`
	DirectDebitLeadDays int  `mapstructure:"directDebitLeadDays"`
	FailoverEnabled     bool `mapstructure:"failoverEnabled"`

	// How long a PENDING attempt may sit without an outcome before the
	// reconciliation sweep marks it FAILED.
	PendingTimeoutMinutes int `mapstructure:"pendingTimeoutMinutes"`

	// Mutual-approval window for escrow operations, in hours.
	EscrowApprovalWindowHours int `mapstructure:"escrowApprovalWindowHours"`
}

func DefaultPolicy() Policy {
	return Policy{
		CardLeadDays:              7,
		DirectDebitLeadDays:       7,
		FailoverEnabled:           true,
		PendingTimeoutMinutes:     30,
		EscrowApprovalWindowHours: 72,
	}
}

func (p Policy) PendingTimeout() time.Duration {
	return time.Duration(p.PendingTimeoutMinutes) * time.Minute
}

func (p Policy) EscrowApprovalWindow() time.Duration {
	return time.Duration(p.EscrowApprovalWindowHours) * time.Hour
}

type PolicyHolder struct {
	current atomic.Value // holds Policy
}

func NewPolicyHolder() (*PolicyHolder, error) {
	v := viper.New()

	v.SetConfigName("policy")
	v.SetConfigType("yml")
	v.AddConfigPath("/var/lib/payflow/config")
	v.AddConfigPath("/etc/payflow")
	v.AddConfigPath(".")

	v.SetEnvPrefix("PAYFLOW")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	defaults := DefaultPolicy()
	v.SetDefault("scheduling.cardLeadDays", defaults.CardLeadDays)
	v.SetDefault("scheduling.directDebitLeadDays", defaults.DirectDebitLeadDays)
	v.SetDefault("scheduling.failoverEnabled", defaults.FailoverEnabled)
	v.SetDefault("scheduling.pendingTimeoutMinutes", defaults.PendingTimeoutMinutes)
	v.SetDefault("scheduling.escrowApprovalWindowHours", defaults.EscrowApprovalWindowHours)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	var policy Policy
	if err := v.UnmarshalKey("scheduling", &policy); err != nil {
		return nil, err
	}
	if err := validatePolicy(policy); err != nil {
		return nil, err
	}

	holder := &PolicyHolder{}
	holder.current.Store(policy)

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		var updated Policy
		if err := v.UnmarshalKey("scheduling", &updated); err != nil {
			log.Printf("[policy] reload failed: %v", err)
			return
		}
		if err := validatePolicy(updated); err != nil {
			log.Printf("[policy] invalid config ignored: %v", err)
			return
		}
		holder.current.Store(updated)
		log.Printf("[policy] reloaded from %s", e.Name)
	})

	return holder, nil
}

// Current returns the policy as of the latest successful load.
func (h *PolicyHolder) Current() Policy {
	return h.current.Load().(Policy)
}

// NewStaticPolicyHolder returns a holder pinned to the given policy, for tests.
func NewStaticPolicyHolder(policy Policy) *PolicyHolder {
	holder := &PolicyHolder{}
	holder.current.Store(policy)
	return holder
}

func validatePolicy(p Policy) error {
	if p.CardLeadDays < 0 || p.DirectDebitLeadDays < 0 {
		return errors.New("scheduling lead days cannot be negative")
	}
	if p.PendingTimeoutMinutes <= 0 {
		return errors.New("scheduling.pendingTimeoutMinutes must be positive")
	}
	if p.EscrowApprovalWindowHours <= 0 {
		return errors.New("scheduling.escrowApprovalWindowHours must be positive")
	}
	return nil
}
