package flatfile

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/crystal-mush/mushcode/pkg/gamedb"
)

// ParseComsys reads a mod_comsys.db dump. Each listening alias record
// makes its player a member of the aliased channel. Channel locks, headers
// and charges are not carried over.
func ParseComsys(r io.Reader) ([]*gamedb.Channel, error) {
	s := &lines{sc: bufio.NewScanner(r)}
	s.sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	head, ok := s.next()
	if !ok {
		return nil, fmt.Errorf("comsys: empty file")
	}
	if !strings.HasPrefix(head, "+V") {
		return nil, fmt.Errorf("comsys: expected +V header, got %q", head)
	}

	var channels []*gamedb.Channel
	byName := make(map[string]*gamedb.Channel)
	for {
		line, ok := s.next()
		if !ok || strings.HasPrefix(line, "+V") {
			break
		}
		ch, err := s.channel(line)
		if err != nil {
			return nil, fmt.Errorf("comsys: channel %q: %w", line, err)
		}
		channels = append(channels, ch)
		byName[strings.ToLower(ch.Name)] = ch
	}

	for {
		line, ok := s.next()
		if !ok || line == "*** END OF DUMP ***" {
			break
		}
		player, chName, listening, err := s.alias(line)
		if err != nil {
			return nil, fmt.Errorf("comsys: alias: %w", err)
		}
		if ch := byName[strings.ToLower(chName)]; ch != nil && listening {
			ch.Members[player] = true
		}
	}
	return channels, s.sc.Err()
}

// lines walks the trimmed, non-blank lines of a comsys dump.
type lines struct {
	sc *bufio.Scanner
}

func (s *lines) next() (string, bool) {
	for s.sc.Scan() {
		if line := strings.TrimSpace(s.sc.Text()); line != "" {
			return line, true
		}
	}
	return "", false
}

// field reads the next raw line, blank or not.
func (s *lines) field(what string) (string, error) {
	if !s.sc.Scan() {
		return "", fmt.Errorf("unexpected EOF reading %s", what)
	}
	return strings.TrimSpace(s.sc.Text()), nil
}

func (s *lines) number(what string) (int, error) {
	v, err := s.field(what)
	if err != nil {
		return 0, err
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("bad %s %q: %w", what, v, err)
	}
	return n, nil
}

// skipTo consumes lines through the first one equal to end.
func (s *lines) skipTo(end string) {
	for s.sc.Scan() {
		if strings.TrimSpace(s.sc.Text()) == end {
			return
		}
	}
}

// channel reads one channel record whose quoted name line was already
// consumed: owner, flags, charge, collected, sent, description, header,
// three dash-terminated locks, then "<".
func (s *lines) channel(nameLine string) (*gamedb.Channel, error) {
	ch := &gamedb.Channel{
		Name:    unquote(nameLine),
		Members: make(map[gamedb.DBRef]bool),
	}
	owner, err := s.number("owner")
	if err != nil {
		return nil, err
	}
	ch.Owner = gamedb.DBRef(owner)
	for _, what := range []string{"flags", "charge", "charge collected", "messages sent"} {
		if _, err := s.field(what); err != nil {
			return nil, err
		}
	}
	desc, err := s.field("description")
	if err != nil {
		return nil, err
	}
	ch.Description = unquote(desc)
	if _, err := s.field("header"); err != nil {
		return nil, err
	}
	for range 3 {
		s.skipTo("-")
	}
	s.skipTo("<")
	return ch, nil
}

// alias reads one alias record whose player line was already consumed:
// channel, alias, title, listening, then "<".
func (s *lines) alias(playerLine string) (gamedb.DBRef, string, bool, error) {
	ref, err := strconv.Atoi(playerLine)
	if err != nil {
		return 0, "", false, fmt.Errorf("bad player dbref %q: %w", playerLine, err)
	}
	chName, err := s.field("channel")
	if err != nil {
		return 0, "", false, err
	}
	for _, what := range []string{"alias", "title"} {
		if _, err := s.field(what); err != nil {
			return 0, "", false, err
		}
	}
	listening, err := s.field("listening flag")
	if err != nil {
		return 0, "", false, err
	}
	s.skipTo("<")
	return gamedb.DBRef(ref), unquote(chName), listening == "1", nil
}

// unquote strips one pair of surrounding double quotes.
func unquote(s string) string {
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		return s[1 : len(s)-1]
	}
	return s
}
