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

// BillingPolicy is the hot-reloadable part of billing behaviour: document
// due dates, chain-lock retry budget and renewal scheduler tuning.
type BillingPolicy struct {
	InvoiceDueDays      int           `mapstructure:"invoiceDueDays"`
	LockRetryAttempts   int           `mapstructure:"lockRetryAttempts"`
	LockRetryBackoff    time.Duration `mapstructure:"lockRetryBackoff"`
	RenewalBatchSize    int           `mapstructure:"renewalBatchSize"`
	RenewalRunInterval  time.Duration `mapstructure:"renewalRunInterval"`
	RenewalLockDuration time.Duration `mapstructure:"renewalLockDuration"`
}

func DefaultBillingPolicy() BillingPolicy {
	return BillingPolicy{
		InvoiceDueDays:      10,
		LockRetryAttempts:   3,
		LockRetryBackoff:    50 * time.Millisecond,
		RenewalBatchSize:    50,
		RenewalRunInterval:  time.Minute,
		RenewalLockDuration: 5 * time.Minute,
	}
}

type BillingPolicyHolder struct {
	current atomic.Value // holds BillingPolicy
}

func NewBillingPolicyHolder() (*BillingPolicyHolder, error) {
	v := viper.New()

	v.SetConfigName("billing")
	v.SetConfigType("yml")
	v.AddConfigPath("/var/lib/netbill/config")
	v.AddConfigPath("/etc/netbill")
	v.AddConfigPath(".")

	v.SetEnvPrefix("NETBILL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	defaults := DefaultBillingPolicy()
	v.SetDefault("billing.invoiceDueDays", defaults.InvoiceDueDays)
	v.SetDefault("billing.lockRetryAttempts", defaults.LockRetryAttempts)
	v.SetDefault("billing.lockRetryBackoff", defaults.LockRetryBackoff)
	v.SetDefault("billing.renewalBatchSize", defaults.RenewalBatchSize)
	v.SetDefault("billing.renewalRunInterval", defaults.RenewalRunInterval)
	v.SetDefault("billing.renewalLockDuration", defaults.RenewalLockDuration)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	var policy BillingPolicy
	if err := v.UnmarshalKey("billing", &policy); err != nil {
		return nil, err
	}
	if err := validateBillingPolicy(policy); err != nil {
		return nil, err
	}

	holder := &BillingPolicyHolder{}
	holder.current.Store(policy)

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		var updated BillingPolicy
		if err := v.UnmarshalKey("billing", &updated); err != nil {
			log.Printf("[billing-policy] reload failed: %v", err)
			return
		}
		if err := validateBillingPolicy(updated); err != nil {
			log.Printf("[billing-policy] invalid policy ignored: %v", err)
			return
		}
		holder.current.Store(updated)
		log.Printf("[billing-policy] reloaded from %s", e.Name)
	})

	return holder, nil
}

// NewStaticBillingPolicyHolder wraps a fixed policy with no file watching.
func NewStaticBillingPolicyHolder(policy BillingPolicy) *BillingPolicyHolder {
	holder := &BillingPolicyHolder{}
	holder.current.Store(policy)
	return holder
}

func (h *BillingPolicyHolder) Get() BillingPolicy {
	return h.current.Load().(BillingPolicy)
}

func validateBillingPolicy(policy BillingPolicy) error {
	if policy.InvoiceDueDays <= 0 {
		return errors.New("billing.invoiceDueDays must be positive")
	}
	if policy.LockRetryAttempts <= 0 {
		return errors.New("billing.lockRetryAttempts must be positive")
	}
	if policy.RenewalBatchSize <= 0 {
		return errors.New("billing.renewalBatchSize must be positive")
	}
	return nil
}
