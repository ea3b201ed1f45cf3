package scenario

import (
	"context"
	"strings"
	"sync"

	"github.com/hochfrequenz/sim-topup/internal/device"
	"github.com/hochfrequenz/sim-topup/internal/domain"
)

// screenXML renders a minimal uiautomator dump for page
func screenXML(page domain.Page) string {
	var node string
	switch page {
	case domain.PageHomeScreen:
		node = `<node text="" resource-id="com.ldmnq.launcher3:id/workspace"/>`
	case domain.PagePasswordInput:
		node = `<node text="Введіть пароль" resource-id=""/>`
	case domain.PageTopUpCellPhone:
		node = `<node text="Отримувач" resource-id=""/>`
	case domain.PageAmountSelection:
		node = `<node text="" resource-id="uds_amount_input_amount"/>`
	case domain.PageConfirmation:
		node = `<node text="Оплатити 10 ₴" resource-id=""/>`
	case domain.PageProcessing:
		node = `<node text="Обробка платежу" resource-id=""/>`
	case domain.PageSuccess:
		node = `<node text="Платіж прийнято" resource-id=""/>`
	case domain.PagePasswordReset:
		node = `<node text="Змінити поточний пароль?" resource-id=""/>`
	case domain.PageTechnicalProblem:
		node = `<node text="Технічна помилка. Будь ласка, спробуйте пізніше." resource-id="uds_alert_message"/>`
	case domain.PageUnableShowCards:
		node = `<node text="Неможливо показати рахунки" resource-id=""/>`
	default:
		node = `<node text="" resource-id="android:id/content"/>`
	}
	return `<?xml version='1.0' encoding='UTF-8' standalone='yes' ?><hierarchy rotation="0"><node index="0">` + node + `</node></hierarchy>`
}

// fakeApp simulates the bank app on one device. Taps move between screens
// the way the real app does unless the screen is frozen.
type fakeApp struct {
	mu sync.Mutex

	screen    domain.Page
	afterOpen domain.Page
	frozen    map[domain.Page]bool
	// lag is how many bottom button presses a screen ignores before it reacts
	lag map[domain.Page]int
	// backTo is where the back key leads; unset means back does nothing
	backTo domain.Page
	// processingLeft is how many extra dumps keep showing the processing screen
	processingLeft int
	dumpErr        error
	onInput        func()
	onDump         func(served domain.Page)

	dumps, screenshots int
	passwordTaps       int
	dismissTaps        int
	doneTaps           int
	backs, opens       int
	closes             int
	typed              []string
}

func newFakeApp(screen domain.Page) *fakeApp {
	return &fakeApp{
		screen:    screen,
		afterOpen: domain.PageMain,
		frozen:    map[domain.Page]bool{},
		lag:       map[domain.Page]int{},
		backTo:    domain.PageUnknown,
	}
}

func (f *fakeApp) Serial() string { return "emulator-5554" }

func (f *fakeApp) UIDump(ctx context.Context) (*device.UITree, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	f.dumps++
	if f.dumpErr != nil {
		f.mu.Unlock()
		return nil, f.dumpErr
	}

	served := f.screen
	tree, err := device.ParseUITree([]byte(screenXML(served)))
	if f.screen == domain.PageProcessing {
		if f.processingLeft > 0 {
			f.processingLeft--
		} else {
			f.screen = domain.PageSuccess
		}
	}
	hook := f.onDump
	f.mu.Unlock()

	if hook != nil {
		hook(served)
	}
	return tree, err
}

func (f *fakeApp) Tap(ctx context.Context, r device.Rect) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.frozen[f.screen] {
		return nil
	}
	if r == bottomButton && f.lag[f.screen] > 0 {
		f.lag[f.screen]--
		return nil
	}

	switch {
	case r == passwordKey && f.screen == domain.PagePasswordInput:
		f.passwordTaps++
		if f.passwordTaps%passwordLength == 0 {
			f.screen = domain.PageMain
		}
	case r == dismissReset && f.screen == domain.PagePasswordReset:
		f.dismissTaps++
		f.screen = domain.PageMain
	case r == topUpEntry && f.screen == domain.PageMain:
		f.screen = domain.PageTopUpCellPhone
	case r == bottomButton:
		switch f.screen {
		case domain.PageTopUpCellPhone:
			f.screen = domain.PageAmountSelection
		case domain.PageAmountSelection:
			f.screen = domain.PageConfirmation
		case domain.PageConfirmation:
			f.screen = domain.PageProcessing
		case domain.PageSuccess:
			f.doneTaps++
			f.screen = domain.PageHomeScreen
		}
	}
	return nil
}

func (f *fakeApp) InputText(ctx context.Context, text string) error {
	f.mu.Lock()
	f.typed = append(f.typed, text)
	hook := f.onInput
	f.mu.Unlock()
	if hook != nil {
		hook()
	}
	return nil
}

func (f *fakeApp) GoHome(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.screen = domain.PageHomeScreen
	return nil
}

func (f *fakeApp) OpenApp(ctx context.Context, pkg string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.opens++
	f.screen = f.afterOpen
	return nil
}

func (f *fakeApp) CloseApp(ctx context.Context, pkg string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closes++
	f.screen = domain.PageHomeScreen
	return nil
}

func (f *fakeApp) Screenshot(ctx context.Context) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.screenshots++
	return []byte("screen:" + f.screen.String()), nil
}

func (f *fakeApp) Shell(ctx context.Context, command string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if command == backKeyCommand {
		f.backs++
		if f.backTo != domain.PageUnknown {
			f.screen = f.backTo
		}
	}
	return "", nil
}

// fakeOCR reads the fake screenshot and returns the words the real page shows
type fakeOCR struct {
	mu    sync.Mutex
	calls int
}

func (o *fakeOCR) RecognizeText(ctx context.Context, image []byte) (string, error) {
	o.mu.Lock()
	o.calls++
	o.mu.Unlock()

	switch strings.TrimPrefix(string(image), "screen:") {
	case "Main":
		return "Головна\nУсі рахунки\nДепозити", nil
	case "AmountSelection":
		return "З картки\n0,00 ₴", nil
	}
	return "", nil
}
