package scenario

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/hochfrequenz/sim-topup/internal/device"
	"github.com/hochfrequenz/sim-topup/internal/domain"
	"github.com/hochfrequenz/sim-topup/internal/ocr"
	"go.uber.org/zap"
)

const (
	raifPackage = "ua.raiffeisen.myraif"

	passwordLength  = 4
	maxUnknownPages = 5
	maxStuckRepeats = 2
	technicalBudget = 2
	lagRetries      = 2
	maxOpenChecks   = 5
	maxBackPresses  = 10
)

// Words the OCR fallback looks for on pages without a reliable UI marker
var (
	mainPageWords   = []string{"Усі рахунки", "Головна", "Депозити", "Усі платежі"}
	amountPageWords = []string{"Немає комісії", "0,00", "З картки"}
)

// Tap targets, in device pixels
var (
	passwordKey    = device.Rect{X1: 240, Y1: 900, X2: 350, Y2: 1000}
	dismissReset   = device.Rect{X1: 300, Y1: 1130, X2: 400, Y2: 1200}
	topUpEntry     = device.Rect{X1: 620, Y1: 1270, X2: 720, Y2: 1330}
	numberField    = device.Rect{X1: 48, Y1: 438, X2: 1032, Y2: 630}
	bottomButton   = device.Rect{X1: 100, Y1: 1790, X2: 1000, Y2: 1850}
	backKeyCommand = "input keyevent 4"
)

type pageMarker struct {
	page   domain.Page
	marker device.Marker
}

// raifMarkers are checked in order; the first match wins
var raifMarkers = []pageMarker{
	{domain.PageHomeScreen, device.MustCompileMarker(`//node[@resource-id='com.ldmnq.launcher3:id/workspace']`)},
	{domain.PagePasswordInput, device.MustCompileMarker(`//node[@text="Введіть пароль"]`)},
	{domain.PageSuccess, device.MustCompileMarker(`//node[@text='Платіж прийнято']`)},
	{domain.PageAmountSelection, device.MustCompileMarker(`//node[@resource-id='uds_amount_input_amount']`)},
	{domain.PageTopUpCellPhone, device.MustCompileMarker(`//node[contains(@text, 'Отримувач')]`)},
	{domain.PageConfirmation, device.MustCompileMarker(`//node[contains(@text, 'Оплатити')]`)},
	{domain.PageProcessing, device.MustCompileMarker(`//node[@text='Обробка платежу']`)},
	{domain.PagePasswordReset, device.MustCompileMarker(`//node[@text='Змінити поточний пароль?']`)},
	{domain.PageTechnicalProblem, device.MustCompileMarker(`//node[@resource-id='uds_alert_message' and @text='Технічна помилка. Будь ласка, спробуйте пізніше.']`)},
	{domain.PageUnableShowCards, device.MustCompileMarker(`//node[@text='Неможливо показати рахунки']`)},
}

// step is one row of the transition table: what to do on a page,
// how long to let the app settle and which page should follow
type step struct {
	act    func(ctx context.Context, s *session) error
	settle delay
	next   domain.Page
}

// session is the per-job state of one Replenish call
type session struct {
	dev       device.Device
	job       *domain.Job
	log       *zap.Logger
	technical int
}

func (s *session) tap(ctx context.Context, r device.Rect, what string) error {
	s.log.Info("tapping " + what)
	return s.dev.Tap(ctx, r)
}

// Raif tops up numbers through the Raiffeisen Bank app
type Raif struct {
	ocr     ocr.Recognizer
	log     *zap.Logger
	timings Timings
	steps   map[domain.Page]step
}

// NewRaif creates the Raiffeisen scenario
func NewRaif(recognizer ocr.Recognizer, timings Timings, log *zap.Logger) *Raif {
	r := &Raif{
		ocr:     recognizer,
		log:     log.Named("raif"),
		timings: timings,
	}
	r.steps = map[domain.Page]step{
		domain.PageHomeScreen:       {act: r.openApp, settle: delayLong, next: domain.PageMain},
		domain.PagePasswordInput:    {act: r.unlock, settle: delayLong, next: domain.PageMain},
		domain.PageMain:             {act: r.openTopUp, settle: delayMiddle, next: domain.PageTopUpCellPhone},
		domain.PageTopUpCellPhone:   {act: r.enterNumber, settle: delayMiddle, next: domain.PageAmountSelection},
		domain.PageAmountSelection:  {act: r.enterAmount, settle: delayLong, next: domain.PageConfirmation},
		domain.PageConfirmation:     {act: r.pay, settle: delayLong, next: domain.PageProcessing},
		domain.PageProcessing:       {act: r.waitProcessing, settle: delayMiddle, next: domain.PageSuccess},
		domain.PageSuccess:          {act: r.finish, settle: delayShort, next: domain.PageSuccess},
		domain.PagePasswordReset:    {act: r.dismissPasswordReset, settle: delayShort, next: domain.PageMain},
		domain.PageTechnicalProblem: {act: r.technicalProblem, settle: delayShort, next: domain.PageMain},
		domain.PageUnableShowCards:  {act: r.restartApp, settle: delayShort, next: domain.PageMain},
	}
	return r
}

func (r *Raif) Bank() domain.Bank {
	return domain.BankRaif
}

// Replenish walks the app from whatever page is showing to a confirmed payment
func (r *Raif) Replenish(ctx context.Context, dev device.Device, job *domain.Job) error {
	s := &session{
		dev: dev,
		job: job,
		log: r.log.With(
			zap.String("device", dev.Serial()),
			zap.Int64("job", job.ID),
			zap.String("number", job.Phone.Number),
		),
	}

	previous := domain.PageDefault
	unknown, stuck := 0, 0

	for {
		if s.technical >= technicalBudget {
			s.log.Warn("too many technical problems, the number is dead or the bank is glitching")
			return fmt.Errorf("%w: %s", domain.ErrTechnicalFailure, job.Phone.Number)
		}

		page, err := r.detect(ctx, s, previous, false)
		if err != nil {
			return err
		}

		if page == domain.PageUnknown {
			unknown++
			s.log.Warn("could not identify the current page", zap.Int("attempt", unknown))
			if err := sleep(ctx, r.timings.Middle); err != nil {
				return err
			}
			if unknown == maxUnknownPages {
				dump := r.captureDump(ctx, s)
				r.closeApp(ctx, s)
				if err := sleep(ctx, r.timings.Short); err != nil {
					return err
				}
				return &domain.PageLoadError{Expected: domain.PageUnknown, Dump: dump}
			}
			continue
		}

		s.log.Info("current page detected", zap.Stringer("page", page))

		if page == previous {
			if stuck == maxStuckRepeats {
				dump := r.captureDump(ctx, s)
				if err := r.returnToMain(ctx, s); err != nil {
					return err
				}
				return &domain.PageLoadError{Expected: r.steps[page].next, Dump: dump}
			}
			if page != domain.PageProcessing {
				stuck++
				if err := sleep(ctx, r.timings.Long); err != nil {
					return err
				}
			}
		} else {
			stuck, unknown = 0, 0
		}
		previous = page

		st := r.steps[page]
		if page == domain.PageSuccess {
			// Success is final even if the receipt cannot be dismissed
			if err := st.act(ctx, s); err != nil {
				s.log.Warn("closing the receipt failed", zap.Error(err))
			}
			return nil
		}

		if err := st.act(ctx, s); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if !errors.Is(err, domain.ErrTransport) {
				return err
			}
			s.log.Warn("device step failed, detecting again", zap.Stringer("page", page), zap.Error(err))
		}

		if err := sleep(ctx, r.timings.of(st.settle)+r.timings.StepPadding); err != nil {
			return err
		}
	}
}

// returnToMain backs out towards the main page and closes the app if that fails.
// It only returns an error when ctx is done.
func (r *Raif) returnToMain(ctx context.Context, s *session) error {
	s.log.Warn("returning to main page")

	page, err := r.detect(ctx, s, domain.PageUnknown, true)
	if err != nil {
		return err
	}

	for attempts := 0; page != domain.PageMain && attempts < maxBackPresses; attempts++ {
		if _, err := s.dev.Shell(ctx, backKeyCommand); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			s.log.Warn("back key failed", zap.Error(err))
		}
		if err := sleep(ctx, r.timings.Short); err != nil {
			return err
		}
		if page, err = r.detect(ctx, s, page, true); err != nil {
			return err
		}
	}

	if page != domain.PageMain {
		s.log.Warn("main page not reached, closing app")
		r.closeApp(ctx, s)
	}
	return ctx.Err()
}

func (r *Raif) captureDump(ctx context.Context, s *session) []byte {
	tree, err := s.dev.UIDump(ctx)
	if err != nil {
		s.log.Warn("capturing ui dump failed", zap.Error(err))
		return nil
	}
	return tree.Raw()
}

func (r *Raif) closeApp(ctx context.Context, s *session) {
	if err := s.dev.CloseApp(ctx, raifPackage); err != nil {
		s.log.Warn("closing bank app failed", zap.Error(err))
	}
}

func (r *Raif) openApp(ctx context.Context, s *session) error {
	s.log.Info("opening bank app")
	if err := s.dev.OpenApp(ctx, raifPackage); err != nil {
		return err
	}
	if err := sleep(ctx, r.timings.Long); err != nil {
		return err
	}

	for i := 0; i < maxOpenChecks; i++ {
		page, err := r.detect(ctx, s, domain.PageUnknown, true)
		if err != nil {
			return err
		}

		switch page {
		case domain.PageMain:
			return nil
		case domain.PagePasswordInput:
			if err := r.unlock(ctx, s); err != nil {
				return err
			}
			return sleep(ctx, r.timings.Long)
		default:
			s.log.Info("bank app not ready yet", zap.Stringer("page", page))
			if err := sleep(ctx, r.timings.Middle); err != nil {
				return err
			}
		}
	}
	return nil
}

func (r *Raif) unlock(ctx context.Context, s *session) error {
	s.log.Info("entering password")
	for i := 0; i < passwordLength; i++ {
		if err := s.dev.Tap(ctx, passwordKey); err != nil {
			return err
		}
		if err := sleep(ctx, r.timings.Short); err != nil {
			return err
		}
	}
	return nil
}

func (r *Raif) openTopUp(ctx context.Context, s *session) error {
	return s.tap(ctx, topUpEntry, "top up cell phone")
}

func (r *Raif) enterNumber(ctx context.Context, s *session) error {
	if err := s.tap(ctx, numberField, "phone number field"); err != nil {
		return err
	}
	if err := sleep(ctx, r.timings.Short); err != nil {
		return err
	}
	if err := s.dev.InputText(ctx, s.job.Phone.Number); err != nil {
		return err
	}
	if err := sleep(ctx, r.timings.Middle); err != nil {
		return err
	}
	return s.tap(ctx, bottomButton, "top up")
}

func (r *Raif) enterAmount(ctx context.Context, s *session) error {
	if err := s.dev.InputText(ctx, strconv.Itoa(s.job.AmountValue())); err != nil {
		return err
	}
	if err := sleep(ctx, r.timings.Short); err != nil {
		return err
	}
	return s.tap(ctx, bottomButton, "continue")
}

func (r *Raif) pay(ctx context.Context, s *session) error {
	return s.tap(ctx, bottomButton, "pay")
}

func (r *Raif) waitProcessing(ctx context.Context, s *session) error {
	s.log.Info("payment is processing, waiting")
	return nil
}

func (r *Raif) finish(ctx context.Context, s *session) error {
	s.log.Info("replenishment successful")
	return s.tap(ctx, bottomButton, "done")
}

func (r *Raif) dismissPasswordReset(ctx context.Context, s *session) error {
	s.log.Warn("reset password dialog is open, closing it")
	return s.dev.Tap(ctx, dismissReset)
}

func (r *Raif) technicalProblem(ctx context.Context, s *session) error {
	s.technical++
	s.log.Warn("bank reported a technical problem", zap.Int("count", s.technical))
	return nil
}

func (r *Raif) restartApp(ctx context.Context, s *session) error {
	s.log.Error("bank app cannot show accounts, restarting it")
	if err := s.dev.CloseApp(ctx, raifPackage); err != nil {
		return err
	}
	if err := sleep(ctx, r.timings.Middle); err != nil {
		return err
	}
	return s.dev.OpenApp(ctx, raifPackage)
}
