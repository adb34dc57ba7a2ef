package entity

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/go-git/go-billy/v5"
	"github.com/go-playground/validator/v10"
	"github.com/teamsync-project/teamsync/internal/utils"
)

var emailValidator = validator.New()

/*
 * EmailAddress is either an address, an explicit "no email" marker
 * (email = false in the corpus), or absent.
 */
type EmailAddress struct {
	Address  string
	Disabled bool
}

func (e *EmailAddress) UnmarshalTOML(v interface{}) error {
	switch value := v.(type) {
	case string:
		e.Address = value
	case bool:
		if value {
			return fmt.Errorf("email must be an address or false")
		}
		e.Disabled = true
	default:
		return fmt.Errorf("email must be an address or false")
	}
	return nil
}

func (e *EmailAddress) IsSet() bool {
	return e.Address != ""
}

/*
 * Person is keyed by its case-insensitive handle on the source-forge
 * platform. A person exists iff people/<handle>.toml exists.
 * Immutable after load.
 */
type Person struct {
	Name        string       `toml:"name"`
	GitHub      string       `toml:"github"`
	GitHubID    int64        `toml:"github-id"`
	ZulipID     int64        `toml:"zulip-id"`
	DiscordID   int64        `toml:"discord-id"`
	Email       EmailAddress `toml:"email"`
	IrcNickname string       `toml:"irc-nickname"`
	Permissions Permissions  `toml:"permissions"`
}

// Handle is the canonical (lowercased) corpus key of the person.
func (p *Person) Handle() string {
	return strings.ToLower(p.GitHub)
}

func NewPerson(fs billy.Filesystem, filename string) (*Person, error) {
	filecontent, err := utils.ReadFile(fs, filename)
	if err != nil {
		return nil, err
	}

	person := &Person{}
	if err := decodeStrict(filecontent, filename, person, "permissions"); err != nil {
		return nil, err
	}
	return person, nil
}

func (p *Person) Validate(filename string) []error {
	errs := []error{}

	if p.Name == "" {
		errs = append(errs, fmt.Errorf("name is empty for person filename %s", filename))
	}
	if p.GitHub == "" {
		errs = append(errs, fmt.Errorf("github is empty for person filename %s", filename))
	}

	base := filepath.Base(filename)
	base = base[:len(base)-len(filepath.Ext(base))]
	if !strings.EqualFold(p.GitHub, base) {
		errs = append(errs, fmt.Errorf("github handle %s does not match filename %s", p.GitHub, filename))
	}

	if p.GitHubID <= 0 {
		errs = append(errs, fmt.Errorf("github-id must be a positive integer for person filename %s", filename))
	}
	if p.ZulipID < 0 {
		errs = append(errs, fmt.Errorf("zulip-id must be a positive integer for person filename %s", filename))
	}
	if p.DiscordID < 0 {
		errs = append(errs, fmt.Errorf("discord-id must be a positive integer for person filename %s", filename))
	}

	if p.Email.IsSet() {
		if err := emailValidator.Var(p.Email.Address, "email"); err != nil {
			errs = append(errs, fmt.Errorf("invalid email %s for person filename %s", p.Email.Address, filename))
		}
	}

	errs = append(errs, p.Permissions.Validate(filename)...)

	return errs
}

/**
 * ReadPeopleDirectory reads all the files in the dirname directory and returns
 * - a map of Person objects keyed by canonical handle
 * - a slice of errors that must stop the validation process
 * - a slice of warnings that must not stop the validation process
 */
func ReadPeopleDirectory(fs billy.Filesystem, dirname string) (map[string]*Person, []error, []Warning) {
	errors := []error{}
	warnings := []Warning{}
	people := make(map[string]*Person)

	exist, err := utils.Exists(fs, dirname)
	if err != nil {
		errors = append(errors, err)
		return people, errors, warnings
	}
	if !exist {
		return people, errors, warnings
	}

	entries, err := fs.ReadDir(dirname)
	if err != nil {
		errors = append(errors, err)
		return people, errors, warnings
	}

	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if e.Name()[0] == '.' {
			continue
		}
		if !strings.HasSuffix(e.Name(), ".toml") {
			continue
		}
		filename := filepath.Join(dirname, e.Name())
		person, err := NewPerson(fs, filename)
		if err != nil {
			errors = append(errors, err)
			continue
		}
		if errs := person.Validate(filename); len(errs) > 0 {
			errors = append(errors, errs...)
			continue
		}
		if _, ok := people[person.Handle()]; ok {
			errors = append(errors, fmt.Errorf("duplicate person handle %s in %s", person.Handle(), filename))
			continue
		}
		people[person.Handle()] = person
	}
	return people, errors, warnings
}
