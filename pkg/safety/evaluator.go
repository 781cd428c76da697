package safety

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/autopay-hq/autopay-engine/pkg/logger"
	"github.com/autopay-hq/autopay-engine/pkg/models"
)

// DenialKind is the bounded category of a denial, identifying which check
// failed. Metrics and branching use the kind; the free-form Reason is for
// records and logs only.
type DenialKind string

const (
	DenialNone              DenialKind = ""
	DenialPaused            DenialKind = "paused"
	DenialGasCeiling        DenialKind = "gas_ceiling"
	DenialEmergencyBrake    DenialKind = "emergency_brake"
	DenialMinBalance        DenialKind = "min_balance"
	DenialCooldown          DenialKind = "cooldown"
	DenialOracleUnavailable DenialKind = "oracle_unavailable"
)

// Verdict is the evaluator's admit/deny decision for a candidate execution
type Verdict struct {
	Admitted  bool
	Kind      DenialKind
	Reason    string
	Retryable bool
}

// RetryState is the read-only view of the retry queue the evaluator
// consults for the cooldown check. Queue mutation stays with the
// dispatcher so the evaluator remains free of side effects.
type RetryState interface {
	// NextEligible returns the instant the schedule's cooldown elapses.
	// ok is false when the schedule is not queued for retry.
	NextEligible(scheduleID string, cooldown time.Duration) (next time.Time, ok bool)
}

// Evaluator gates every candidate execution against the schedule's safety
// rule and live oracle readings. Checks run in fixed precedence order:
// pause flag, gas ceiling, emergency brake, minimum balance, retry
// cooldown. The first failing check decides the reason and retryability.
type Evaluator struct {
	rules          *RuleStore
	gas            GasOracle
	balance        BalanceOracle
	retries        RetryState
	defaultGasGwei int64
	oracleTimeout  time.Duration
	logger         logger.Logger
}

// NewEvaluator creates an evaluator over the given rule store, oracles and
// retry state view
func NewEvaluator(
	rules *RuleStore,
	gas GasOracle,
	balance BalanceOracle,
	retries RetryState,
	defaultGasGwei int64,
	oracleTimeout time.Duration,
	log logger.Logger,
) *Evaluator {
	return &Evaluator{
		rules:          rules,
		gas:            gas,
		balance:        balance,
		retries:        retries,
		defaultGasGwei: defaultGasGwei,
		oracleTimeout:  oracleTimeout,
		logger:         log,
	}
}

// Evaluate decides whether a schedule may execute for the given payer.
// The only side effects are the oracle reads.
func (e *Evaluator) Evaluate(ctx context.Context, scheduleID, payer, token string) Verdict {
	rule, hasRule := e.rules.Get(scheduleID)

	// 1. Manual pause is a hard stop
	if hasRule && rule.IsPaused {
		reason := "schedule is paused"
		if rule.PauseReason != "" {
			reason = fmt.Sprintf("schedule is paused: %s", rule.PauseReason)
		}
		return deny(DenialPaused, reason+"; manual intervention required", false)
	}

	// 2. Gas ceiling
	ceiling := e.defaultGasGwei
	if hasRule && rule.MaxGasPriceGwei > 0 {
		ceiling = rule.MaxGasPriceGwei
	}
	gasCtx, cancel := context.WithTimeout(ctx, e.oracleTimeout)
	gasPrice, err := e.gas.CurrentGasPriceGwei(gasCtx)
	cancel()
	if err != nil {
		e.logger.ErrorWith(logger.Safety, "Gas oracle read failed for schedule %s: %v", scheduleID, err)
		return deny(DenialOracleUnavailable, "could not verify safety conditions: gas price unavailable", true)
	}
	if gasPrice > ceiling {
		return deny(DenialGasCeiling, fmt.Sprintf("gas price %d gwei above ceiling %d gwei", gasPrice, ceiling), true)
	}

	// 3. Balance floors, only read the oracle when a floor is configured
	if hasRule && (rule.EmergencyBrakeBalance != "" || rule.MinWalletBalance != "") {
		if rule.BrakeAboveMinimum() {
			e.logger.ErrorWith(logger.Safety,
				"Schedule %s has emergency brake above minimum balance, evaluating as configured", scheduleID)
		}

		balCtx, cancel := context.WithTimeout(ctx, e.oracleTimeout)
		rawBalance, err := e.balance.BalanceOf(balCtx, payer, token)
		cancel()
		if err != nil {
			e.logger.ErrorWith(logger.Safety, "Balance oracle read failed for schedule %s: %v", scheduleID, err)
			return deny(DenialOracleUnavailable, "could not verify safety conditions: balance unavailable", true)
		}
		balance, ok := new(big.Int).SetString(rawBalance, 10)
		if !ok {
			e.logger.ErrorWith(logger.Safety, "Balance oracle returned malformed value %q for %s", rawBalance, payer)
			return deny(DenialOracleUnavailable, "could not verify safety conditions: balance unreadable", true)
		}

		if rule.EmergencyBrakeBalance != "" {
			brake, ok := new(big.Int).SetString(rule.EmergencyBrakeBalance, 10)
			if ok && balance.Cmp(brake) <= 0 {
				return deny(DenialEmergencyBrake, fmt.Sprintf(
					"balance %s at or below emergency brake %s; manual intervention required",
					balance.String(), brake.String()), false)
			}
		}
		if rule.MinWalletBalance != "" {
			minBalance, ok := new(big.Int).SetString(rule.MinWalletBalance, 10)
			if ok && balance.Cmp(minBalance) < 0 {
				return deny(DenialMinBalance, fmt.Sprintf(
					"balance %s below minimum %s", balance.String(), minBalance.String()), true)
			}
		}
	}

	// 4. Retry cooldown. Entries whose cooldown has elapsed fall through
	// to admission; the dispatcher removes them from the queue on admit.
	cooldown := time.Duration(models.DefaultRetryIntervalMinutes) * time.Minute
	if hasRule {
		cooldown = rule.RetryInterval()
	}
	if next, queued := e.retries.NextEligible(scheduleID, cooldown); queued && time.Now().Before(next) {
		return deny(DenialCooldown, fmt.Sprintf("cooldown active, next retry at %s", next.UTC().Format(time.RFC3339)), true)
	}

	// 5. All checks passed
	return Verdict{Admitted: true}
}

func deny(kind DenialKind, reason string, retryable bool) Verdict {
	return Verdict{Admitted: false, Kind: kind, Reason: reason, Retryable: retryable}
}
