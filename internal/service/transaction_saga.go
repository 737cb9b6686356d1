package service

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"cardpay/internal/infrastructure/lock"
	"cardpay/internal/metrics"
	"cardpay/internal/model"
	"cardpay/internal/repository"
)

// ============================================================================
// 交易流程
// ============================================================================
//
//   validating_card -> authorizing -> awaiting_settlement -> capturing -> captured
//          |                |                 |          \-> canceling -> canceled
//          v                v                 v (超时)
//       declined         declined          canceling
//
// 命令（start/capture/cancel）只负责把流程推进到下一步并立即应答，
// 需要外部调用的步骤由后台 goroutine 执行，每一步完成后整体快照写入事件日志。
// 进程重启后，停在中间步骤的流程由恢复任务重新驱动。
//
// ============================================================================

type SagaReply string

const (
	ReplyStarted             SagaReply = "STARTED"
	ReplyAlreadyExists       SagaReply = "ALREADY_EXISTS"
	ReplyCaptureStarted      SagaReply = "CAPTURE_STARTED"
	ReplyCancelStarted       SagaReply = "CANCEL_STARTED"
	ReplyTransactionNotFound SagaReply = "TRANSACTION_NOT_FOUND"
	ReplyNotAuthorized       SagaReply = "NOT_AUTHORIZED"
	ReplyAlreadyCaptured     SagaReply = "ALREADY_CAPTURED"
	ReplyAlreadyCanceled     SagaReply = "ALREADY_CANCELED"
)

// CardValidator 校验卡数据，返回所属账户
type CardValidator interface {
	ValidateCard(ctx context.Context, pan, expiryDate, cvv string) (accountID string, ok bool, err error)
}

type StartTransactionRequest struct {
	IdempotencyKey string `json:"idempotency_key" binding:"required"`
	TransactionID  string `json:"transaction_id" binding:"required"`
	CardPan        string `json:"card_pan" binding:"required"`
	CardExpiryDate string `json:"card_expiry_date" binding:"required"`
	CardCvv        string `json:"card_cvv" binding:"required"`
	Amount         int64  `json:"amount" binding:"required"`
	Currency       string `json:"currency" binding:"required"`
}

type SagaOptions struct {
	AutoCancelAfter time.Duration
	CallTimeout     time.Duration
}

type TransactionSaga struct {
	entity   *eventSourced[model.TransactionState]
	cards    CardValidator
	accounts AccountClient
	timers   repository.TimerStore
	opts     SagaOptions
	logger   *slog.Logger
	now      func() time.Time

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu sync.Mutex
	// 正在驱动的流程；值为 true 表示驱动期间又收到了推进请求
	active map[string]bool
	// 由恢复任务重新驱动的流程，其当前步骤可能在崩溃前已经生效
	resumed map[string]bool
}

func NewTransactionSaga(
	journal repository.Journal,
	locker lock.Locker,
	cards CardValidator,
	accounts AccountClient,
	timers repository.TimerStore,
	opts SagaOptions,
	logger *slog.Logger,
) *TransactionSaga {
	ctx, cancel := context.WithCancel(context.Background())
	return &TransactionSaga{
		entity: &eventSourced[model.TransactionState]{
			journal:    journal,
			locker:     locker,
			entityType: model.EntityTypeTransaction,
			decode:     model.DecodeTransactionEvent,
			apply:      model.TransactionState.Apply,
		},
		cards:    cards,
		accounts: accounts,
		timers:   timers,
		opts:     opts,
		logger:   logger.With("component", "transaction_saga"),
		now:      time.Now,
		ctx:      ctx,
		cancel:   cancel,
		active:   make(map[string]bool),
		resumed:  make(map[string]bool),
	}
}

// Start 同一幂等键只会启动一次
func (s *TransactionSaga) Start(ctx context.Context, req StartTransactionRequest) (SagaReply, error) {
	if req.IdempotencyKey == "" || req.TransactionID == "" {
		return "", fmt.Errorf("%w: idempotency key and transaction id are required", ErrInvalidRequest)
	}
	if req.Amount <= 0 {
		return "", ErrInvalidAmount
	}

	reply, _, err := execute(ctx, s.entity, req.IdempotencyKey, func(st model.TransactionState) (SagaReply, []model.Event) {
		if !st.IsEmpty() {
			return ReplyAlreadyExists, nil
		}
		next := model.NewTransactionState(req.IdempotencyKey, req.TransactionID, model.CardData{
			CardPan:        req.CardPan,
			CardExpiryDate: req.CardExpiryDate,
			CardCvv:        req.CardCvv,
			Amount:         req.Amount,
			Currency:       req.Currency,
		})
		next.UpdatedAt = s.now()
		return ReplyStarted, []model.Event{model.TransactionStateChanged{State: next}}
	})
	if err != nil {
		return "", err
	}

	metrics.SagaCommands.WithLabelValues("start", string(reply)).Inc()
	if reply == ReplyStarted {
		s.logger.Info("transaction started",
			"idempotency_key", req.IdempotencyKey,
			"transaction_id", req.TransactionID,
			"amount", req.Amount,
			"currency", req.Currency,
		)
		s.kick(req.IdempotencyKey)
	}
	return reply, nil
}

// Capture 请款，可重复调用
func (s *TransactionSaga) Capture(ctx context.Context, key string) (SagaReply, error) {
	return s.settle(ctx, "capture", key, func(st model.TransactionState) (SagaReply, bool) {
		switch {
		case st.IsCaptured():
			return ReplyAlreadyCaptured, false
		case st.IsCanceled(), st.Step == model.StepCanceling:
			return ReplyAlreadyCanceled, false
		case st.Step == model.StepCapturing:
			return ReplyCaptureStarted, false
		}
		return ReplyCaptureStarted, true
	}, model.StepCapturing)
}

// Cancel 撤销授权，超时定时器触发时走同一入口
func (s *TransactionSaga) Cancel(ctx context.Context, key string) (SagaReply, error) {
	return s.settle(ctx, "cancel", key, func(st model.TransactionState) (SagaReply, bool) {
		switch {
		case st.IsCaptured(), st.Step == model.StepCapturing:
			return ReplyAlreadyCaptured, false
		case st.IsCanceled():
			return ReplyAlreadyCanceled, false
		case st.Step == model.StepCanceling:
			return ReplyCancelStarted, false
		}
		return ReplyCancelStarted, true
	}, model.StepCanceling)
}

// settle 请款和撤销共用的守卫：流程不存在、未授权的判断相同，其余由 guard 决定
func (s *TransactionSaga) settle(
	ctx context.Context,
	command, key string,
	guard func(model.TransactionState) (SagaReply, bool),
	step model.SagaStep,
) (SagaReply, error) {
	reply, _, err := execute(ctx, s.entity, key, func(st model.TransactionState) (SagaReply, []model.Event) {
		if st.IsEmpty() {
			return ReplyTransactionNotFound, nil
		}
		if !st.IsAuthorised() {
			return ReplyNotAuthorized, nil
		}
		reply, proceed := guard(st)
		if !proceed {
			return reply, nil
		}
		next := st.WithStep(step)
		next.UpdatedAt = s.now()
		return reply, []model.Event{model.TransactionStateChanged{State: next}}
	})
	if err != nil {
		return "", err
	}

	metrics.SagaCommands.WithLabelValues(command, string(reply)).Inc()
	s.logger.Info("settlement command handled", "command", command, "idempotency_key", key, "reply", reply)
	if reply == ReplyCaptureStarted || reply == ReplyCancelStarted {
		s.kick(key)
	}
	return reply, nil
}

func (s *TransactionSaga) GetTransaction(ctx context.Context, key string) (*model.TransactionState, error) {
	state, _, err := s.entity.load(ctx, key)
	if err != nil {
		return nil, err
	}
	if state.IsEmpty() {
		return nil, fmt.Errorf("%w: %s", ErrTransactionNotFound, key)
	}
	return &state, nil
}

// Resume 重新驱动停在中间步骤的流程
func (s *TransactionSaga) Resume(key string) {
	s.mu.Lock()
	s.resumed[key] = true
	s.mu.Unlock()
	s.kick(key)
}

// takeResumed 取出并清除恢复标记，只作用于恢复后执行的第一步
func (s *TransactionSaga) takeResumed(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	resumed := s.resumed[key]
	delete(s.resumed, key)
	return resumed
}

// OnTimer 定时器回调
func (s *TransactionSaga) OnTimer(ctx context.Context, timer model.Timer) error {
	if timer.Kind != model.TimerKindAutoCancel {
		return fmt.Errorf("unsupported timer kind %q", timer.Kind)
	}
	reply, err := s.Cancel(ctx, timer.EntityKey)
	if err != nil {
		return err
	}
	s.logger.Info("auto cancel fired", "idempotency_key", timer.EntityKey, "reply", reply)
	return nil
}

// Wait 等待所有后台步骤结束
func (s *TransactionSaga) Wait() {
	s.wg.Wait()
}

// Close 停止后台驱动。执行中的外部调用被中断，对应步骤不落盘，重启后由恢复任务继续。
func (s *TransactionSaga) Close() {
	s.cancel()
	s.wg.Wait()
}

func (s *TransactionSaga) kick(key string) {
	if s.ctx.Err() != nil {
		return
	}

	s.mu.Lock()
	if _, running := s.active[key]; running {
		s.active[key] = true
		s.mu.Unlock()
		return
	}
	s.active[key] = false
	s.wg.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.wg.Done()
		for {
			s.drive(key)

			s.mu.Lock()
			if s.active[key] {
				s.active[key] = false
				s.mu.Unlock()
				continue
			}
			delete(s.active, key)
			s.mu.Unlock()
			return
		}
	}()
}

// drive 逐步执行内部步骤，直到流程暂停或结束
func (s *TransactionSaga) drive(key string) {
	log := s.logger.With("idempotency_key", key)

	for {
		if s.ctx.Err() != nil {
			return
		}
		resumed := s.takeResumed(key)

		state, seq, err := s.entity.load(s.ctx, key)
		if err != nil {
			log.Error("load transaction failed", "error", err)
			return
		}
		if !state.Step.InFlight() {
			return
		}

		next, ok := s.step(state, resumed, log)
		if !ok {
			return
		}
		next.UpdatedAt = s.now()

		appended, err := s.entity.appendAt(s.ctx, key, seq, model.TransactionStateChanged{State: next})
		if err != nil {
			log.Error("persist transaction step failed", "step", next.Step, "error", err)
			return
		}
		if !appended {
			// 状态被其他写者推进，重新读取
			continue
		}

		metrics.SagaSteps.WithLabelValues(string(next.Step)).Inc()
		log.Info("transaction step completed", "from", state.Step, "to", next.Step)

		if state.Step == model.StepCapturing || state.Step == model.StepCanceling {
			if err := s.timers.Delete(s.ctx, model.AutoCancelTimerName(key)); err != nil {
				log.Warn("delete auto cancel timer failed", "error", err)
			}
		}
	}
}

// step 执行当前步骤的外部调用并计算下一状态。返回 false 表示本次不推进。
//
// 账户服务对已结算的授权一律回复 transaction_not_found。恢复执行的请款/撤销收到该回复时，
// 可能是崩溃前的同一次调用已经生效，结果无法确认，记为 undisclosed 而不是明确的拒绝。
func (s *TransactionSaga) step(state model.TransactionState, resumed bool, log *slog.Logger) (model.TransactionState, bool) {
	callCtx, cancel := context.WithTimeout(s.ctx, s.opts.CallTimeout)
	defer cancel()

	var next model.TransactionState
	switch state.Step {
	case model.StepValidatingCard:
		card := state.CardData
		accountID, valid, err := s.cards.ValidateCard(callCtx, card.CardPan, card.CardExpiryDate, card.CardCvv)
		switch {
		case err != nil:
			log.Warn("card validation failed", "error", err)
			next = state.WithAuthorization(model.AuthorizeDeclined(model.AuthStatusUndisclosed))
		case !valid:
			next = state.WithCardRejected()
		default:
			next = state.WithCardValidated(accountID)
		}

	case model.StepAuthorizing:
		resp, err := s.accounts.Authorize(callCtx, state.AccountID, state.TransactionID, state.CardData.Amount)
		if err != nil {
			log.Warn("authorize call failed", "account_id", state.AccountID, "error", err)
			resp = model.AuthorizeDeclined(model.AuthStatusUndisclosed)
		}
		next = state.WithAuthorization(resp)

	case model.StepCapturing:
		resp, err := s.accounts.Capture(callCtx, state.AccountID, state.TransactionID)
		switch {
		case err != nil:
			log.Warn("capture call failed", "account_id", state.AccountID, "error", err)
			resp = model.CaptureDeclined(model.CaptureStatusUndisclosed)
		case resumed && resp.CaptureStatus == model.CaptureStatusTransactionNotFound:
			log.Warn("resumed capture found no open authorization, outcome unknown", "account_id", state.AccountID)
			resp = model.CaptureDeclined(model.CaptureStatusUndisclosed)
		}
		next = state.WithCapture(resp)

	case model.StepCanceling:
		resp, err := s.accounts.Cancel(callCtx, state.AccountID, state.TransactionID)
		switch {
		case err != nil:
			log.Warn("cancel call failed", "account_id", state.AccountID, "error", err)
			resp = model.CancelDeclined(model.CancelStatusUndisclosed)
		case resumed && resp.CancelStatus == model.CancelStatusTransactionNotFound:
			log.Warn("resumed cancel found no open authorization, outcome unknown", "account_id", state.AccountID)
			resp = model.CancelDeclined(model.CancelStatusUndisclosed)
		}
		next = state.WithCancel(resp)

	default:
		return state, false
	}

	// 关闭过程中被中断的调用不能记录为拒绝
	if s.ctx.Err() != nil {
		return state, false
	}

	if next.Step == model.StepAwaitingSettlement {
		// 先挂定时器再落盘，进程在两者之间崩溃时定时器仍然存在
		timer := model.Timer{
			Name:      model.AutoCancelTimerName(state.IdempotencyKey),
			Kind:      model.TimerKindAutoCancel,
			EntityKey: state.IdempotencyKey,
			FireAt:    s.now().Add(s.opts.AutoCancelAfter),
		}
		if err := s.timers.Schedule(s.ctx, timer); err != nil {
			log.Error("schedule auto cancel failed", "error", err)
			return state, false
		}
	}
	return next, true
}
