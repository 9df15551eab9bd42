package ui

import (
	"context"
	"errors"

	"github.com/diamondburned/gotk4-adwaita/pkg/adw"
	"github.com/diamondburned/gotk4/pkg/gtk/v4"

	"firewatch/internal/auth"
	"firewatch/internal/backend"
)

const privacyPolicy = "firewatch stores your login token and user id on this computer only. " +
	"Sensor readings, fire logs and video clips are fetched from your own home servers. " +
	"Bluetooth scanning only looks for firewatch sensor beacons and nothing is uploaded."

type settingsPage struct {
	root *gtk.Box

	login    *adw.PreferencesGroup
	username *gtk.Entry
	password *gtk.Entry

	register        *adw.PreferencesGroup
	regUsername     *gtk.Entry
	regEmail        *gtk.Entry
	regPassword     *gtk.Entry
	regConfirm      *gtk.Entry
	registerMessage *gtk.Label

	account      *adw.PreferencesGroup
	accountName  *adw.ActionRow
	accountEmail *adw.ActionRow

	errLabel *gtk.Label
}

func newSettingsPage(deps Deps) *settingsPage {
	p := &settingsPage{root: newPageBox()}

	p.errLabel = newErrorLabel()
	p.root.Append(p.errLabel)

	p.buildLogin(deps)
	p.buildRegister(deps)
	p.buildAccount(deps)

	about := adw.NewPreferencesGroup()
	about.SetTitle("About")
	aboutRow := adw.NewActionRow()
	aboutRow.SetTitle("firewatch")
	aboutRow.SetSubtitle("Version " + deps.Version)
	about.Add(aboutRow)

	privacy := adw.NewExpanderRow()
	privacy.SetTitle("Privacy policy")
	policy := gtk.NewLabel(privacyPolicy)
	policy.SetWrap(true)
	policy.SetMarginTop(10)
	policy.SetMarginBottom(10)
	policy.SetMarginStart(10)
	policy.SetMarginEnd(10)
	privacy.AddRow(policy)
	about.Add(privacy)
	p.root.Append(about)

	return p
}

func (p *settingsPage) buildLogin(deps Deps) {
	p.login = adw.NewPreferencesGroup()
	p.login.SetTitle("Log in")

	p.username = newEntry("Username", false)
	p.password = newEntry("Password", true)
	p.login.Add(p.username)
	p.login.Add(p.password)

	button := gtk.NewButtonWithLabel("Log in")
	button.AddCSSClass("suggested-action")
	button.ConnectClicked(func() {
		username, password := p.username.Text(), p.password.Text()
		button.SetSensitive(false)
		setError(p.errLabel, "")
		background(func(ctx context.Context) error {
			return deps.Session.Login(ctx, username, password)
		}, func(err error) {
			button.SetSensitive(true)
			if err != nil {
				setError(p.errLabel, loginMessage(err))
				return
			}
			p.password.SetText("")
		})
	})
	p.login.Add(button)

	toRegister := gtk.NewButtonWithLabel("Create an account")
	toRegister.AddCSSClass("flat")
	toRegister.ConnectClicked(func() {
		p.login.SetVisible(false)
		p.register.SetVisible(true)
	})
	p.login.Add(toRegister)

	p.root.Append(p.login)
}

func (p *settingsPage) buildRegister(deps Deps) {
	p.register = adw.NewPreferencesGroup()
	p.register.SetTitle("Register")
	p.register.SetVisible(false)

	p.regUsername = newEntry("Username", false)
	p.regEmail = newEntry("Email", false)
	p.regPassword = newEntry("Password", true)
	p.regConfirm = newEntry("Confirm password", true)
	for _, e := range []*gtk.Entry{p.regUsername, p.regEmail, p.regPassword, p.regConfirm} {
		p.register.Add(e)
	}

	p.registerMessage = gtk.NewLabel("")
	p.registerMessage.SetWrap(true)
	p.registerMessage.SetVisible(false)
	p.root.Append(p.registerMessage)

	button := gtk.NewButtonWithLabel("Register")
	button.AddCSSClass("suggested-action")
	button.ConnectClicked(func() {
		r := auth.Registration{
			Username:        p.regUsername.Text(),
			Email:           p.regEmail.Text(),
			Password:        p.regPassword.Text(),
			ConfirmPassword: p.regConfirm.Text(),
		}
		button.SetSensitive(false)
		setError(p.errLabel, "")
		background(func(ctx context.Context) error {
			return deps.Session.Register(ctx, r)
		}, func(err error) {
			button.SetSensitive(true)
			if err != nil {
				setError(p.errLabel, err.Error())
				return
			}
			p.regPassword.SetText("")
			p.regConfirm.SetText("")
			p.username.SetText(r.Username)
			p.registerMessage.SetText("Registration successful, you can now log in")
			p.registerMessage.SetVisible(true)
			p.register.SetVisible(false)
			p.login.SetVisible(true)
		})
	})
	p.register.Add(button)

	back := gtk.NewButtonWithLabel("Back to log in")
	back.AddCSSClass("flat")
	back.ConnectClicked(func() {
		p.register.SetVisible(false)
		p.login.SetVisible(true)
	})
	p.register.Add(back)

	p.root.Append(p.register)
}

func (p *settingsPage) buildAccount(deps Deps) {
	p.account = adw.NewPreferencesGroup()
	p.account.SetTitle("Account")
	p.accountName = newValueRow(p.account, "Username")
	p.accountEmail = newValueRow(p.account, "Email")

	refresh := gtk.NewButtonWithLabel("Load account details")
	refresh.ConnectClicked(func() { p.loadDetails(deps) })
	p.account.Add(refresh)

	logout := gtk.NewButtonWithLabel("Log out")
	logout.AddCSSClass("destructive-action")
	logout.ConnectClicked(func() {
		background(deps.Session.Logout, func(err error) {
			if err != nil {
				deps.Logger.Warn("logout failed", "error", err)
				setError(p.errLabel, "Logout failed: "+err.Error())
			}
		})
	})
	p.account.Add(logout)

	p.root.Append(p.account)
}

func (p *settingsPage) loadDetails(deps Deps) {
	var details backend.UserDetails
	background(func(ctx context.Context) error {
		var err error
		details, err = deps.Session.AccountDetails(ctx)
		return err
	}, func(err error) {
		if err != nil {
			setError(p.errLabel, loginMessage(err))
			return
		}
		p.accountName.SetSubtitle(details.Username)
		p.accountEmail.SetSubtitle(details.Email)
	})
}

// update shows the login form or the account depending on the session
func (p *settingsPage) update(authenticated bool) {
	p.account.SetVisible(authenticated)
	p.login.SetVisible(!authenticated)
	p.register.SetVisible(false)
	if !authenticated {
		p.accountName.SetSubtitle("--")
		p.accountEmail.SetSubtitle("--")
	}
}

func newEntry(placeholder string, secret bool) *gtk.Entry {
	e := gtk.NewEntry()
	e.SetPlaceholderText(placeholder)
	e.SetVisibility(!secret)
	return e
}

func loginMessage(err error) string {
	var ve *auth.ValidationError
	var ae *backend.APIError
	switch {
	case errors.As(err, &ve):
		return ve.Message
	case errors.As(err, &ae):
		return ae.Message
	case errors.Is(err, auth.ErrNotLoggedIn):
		return "Please log in first"
	case errors.Is(err, backend.ErrUnavailable):
		return "Cannot reach the account service"
	default:
		return err.Error()
	}
}
