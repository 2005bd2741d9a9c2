package session

import (
	"fmt"

	"github.com/helionwallet/ledgerlink/pkg/derive"
)

// Target names the account a Connect call should bind the session to,
// either by account index or by an explicit derivation path.
type Target struct {
	account   int
	path      string
	byAccount bool
}

// Account targets the numbered wallet account, counted from 1.
func Account(n int) Target {
	return Target{account: n, byAccount: true}
}

// AtPath targets an explicit derivation path string such as
// "44'/148'/0'".
func AtPath(path string) Target {
	return Target{path: path}
}

// resolve turns the target into a concrete derivation path.
func (t Target) resolve() (derive.Path, error) {
	if t.byAccount {
		return derive.Account(t.account)
	}
	p := derive.Parse(t.path)
	if derive.IsEmpty(p) {
		return "", fmt.Errorf("%w: empty derivation path", derive.ErrInvalidAccount)
	}
	return p, nil
}

func (t Target) String() string {
	if t.byAccount {
		return fmt.Sprintf("account %d", t.account)
	}
	return t.path
}
