package domain

// Page names a screen of the bank app
type Page int

const (
	PageHomeScreen Page = iota
	PagePasswordInput
	PageMain
	PageTopUpCellPhone
	PageAmountSelection
	PageConfirmation
	PageProcessing
	PageSuccess
	PagePasswordReset
	PageTechnicalProblem
	PageUnableShowCards
	// PageUnknown means detection failed this round
	PageUnknown
	// PageDefault is the sentinel before any detection
	PageDefault
)

var pageNames = [...]string{
	PageHomeScreen:       "HomeScreen",
	PagePasswordInput:    "PasswordInput",
	PageMain:             "Main",
	PageTopUpCellPhone:   "TopUpCellPhone",
	PageAmountSelection:  "AmountSelection",
	PageConfirmation:     "Confirmation",
	PageProcessing:       "Processing",
	PageSuccess:          "Success",
	PagePasswordReset:    "PasswordReset",
	PageTechnicalProblem: "TechnicalProblem",
	PageUnableShowCards:  "UnableShowCards",
	PageUnknown:          "Unknown",
	PageDefault:          "Default",
}

func (p Page) String() string {
	if p < 0 || int(p) >= len(pageNames) {
		return "Invalid"
	}
	return pageNames[p]
}
