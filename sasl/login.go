package sasl

const (
	loginStateInitial = iota
	loginStateUsername
	loginStatePassword
	loginStateDone
)

// Base64 forms of "Username:" and "Password:".
const (
	LoginChallengeUsername = "VXNlcm5hbWU6"
	LoginChallengePassword = "UGFzc3dvcmQ6"
)

// Login implements the non-standard LOGIN mechanism for legacy clients.
type Login struct {
	state    int
	username string
	creds    *Credentials
}

// NewLogin creates a LOGIN exchange.
func NewLogin() *Login {
	return &Login{state: loginStateInitial}
}

func (l *Login) Name() string {
	return MechanismLogin
}

// Start accepts the username as an optional initial response.
func (l *Login) Start(initialResponse string) (string, bool, error) {
	l.state = loginStateUsername
	if initialResponse != "" {
		return l.Next(initialResponse)
	}
	return LoginChallengeUsername, false, nil
}

func (l *Login) Next(response string) (string, bool, error) {
	decoded, err := decode(response)
	if err != nil {
		l.state = loginStateDone
		return "", true, err
	}

	switch l.state {
	case loginStateUsername:
		if len(decoded) == 0 {
			l.state = loginStateDone
			return "", true, ErrInvalidFormat
		}
		l.username = string(decoded)
		l.state = loginStatePassword
		return LoginChallengePassword, false, nil
	case loginStatePassword:
		l.creds = &Credentials{
			AuthenticationID: l.username,
			Password:         string(decoded),
		}
		l.state = loginStateDone
		return "", true, nil
	default:
		l.state = loginStateDone
		return "", true, ErrInvalidFormat
	}
}

func (l *Login) Credentials() *Credentials {
	return l.creds
}
