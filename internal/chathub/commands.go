package chathub

import (
	"strings"
)

// CommandKind is the closed set of user commands.
type CommandKind string

const (
	CmdHelp        CommandKind = "help"
	CmdStart       CommandKind = "start"
	CmdFind        CommandKind = "find"
	CmdCreateRoom  CommandKind = "createroom"
	CmdListRooms   CommandKind = "listrooms"
	CmdJoinRoom    CommandKind = "joinroom"
	CmdLeave       CommandKind = "leave"
	CmdSetProfile  CommandKind = "setprofile"
	CmdViewProfile CommandKind = "viewprofile"
	CmdSetMood     CommandKind = "setmood"
	CmdViewMood    CommandKind = "viewmood"
	CmdMoodStats   CommandKind = "moodstats"
	CmdBroadcast   CommandKind = "broadcast"
)

// Command is a parsed slash command. Args are already split per command;
// multi-word trailing arguments (room name, bio, mood note, broadcast text)
// are kept whole.
type Command struct {
	Kind CommandKind
	Args []string
}

func (c Command) Arg(i int) string {
	if i < len(c.Args) {
		return c.Args[i]
	}
	return ""
}

var usages = map[CommandKind]string{
	CmdHelp:        "/help",
	CmdStart:       "/start",
	CmdFind:        "/find",
	CmdCreateRoom:  "/createroom <name> <capacity>",
	CmdListRooms:   "/listrooms",
	CmdJoinRoom:    "/joinroom <room_id>",
	CmdLeave:       "/leave",
	CmdSetProfile:  "/setprofile <nickname> <emoji> <bio>",
	CmdViewProfile: "/viewprofile",
	CmdSetMood:     "/setmood <mood> [note]",
	CmdViewMood:    "/viewmood",
	CmdMoodStats:   "/moodstats",
	CmdBroadcast:   "/broadcast <message>",
}

// commandOrder is the order commands are listed in help.
var commandOrder = []CommandKind{
	CmdStart, CmdFind, CmdLeave,
	CmdCreateRoom, CmdListRooms, CmdJoinRoom,
	CmdSetProfile, CmdViewProfile,
	CmdSetMood, CmdViewMood, CmdMoodStats,
	CmdHelp,
}

func usageOf(kind CommandKind) string { return usages[kind] }

// Usage returns the help lines for every user-facing command.
func Usage() string {
	lines := make([]string, 0, len(commandOrder))
	for _, k := range commandOrder {
		lines = append(lines, usages[k])
	}
	return strings.Join(lines, "\n")
}

// ParseCommand parses "/name args..." into a Command. A "@botname" suffix on
// the command name is ignored. Unknown names give ErrUnknownCommand, a wrong
// argument count gives a *UsageError.
func ParseCommand(text string) (Command, error) {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "/") {
		return Command{}, ErrUnknownCommand
	}
	name, rest, _ := strings.Cut(text[1:], " ")
	name, _, _ = strings.Cut(name, "@")
	kind := CommandKind(strings.ToLower(name))
	if _, ok := usages[kind]; !ok {
		return Command{}, ErrUnknownCommand
	}
	rest = strings.TrimSpace(rest)
	fields := strings.Fields(rest)
	bad := &UsageError{Usage: usages[kind]}

	switch kind {
	case CmdCreateRoom:
		// the name may contain spaces, the capacity is the last field
		if len(fields) < 2 {
			return Command{}, bad
		}
		last := len(fields) - 1
		return Command{Kind: kind, Args: []string{strings.Join(fields[:last], " "), fields[last]}}, nil

	case CmdJoinRoom:
		if len(fields) != 1 {
			return Command{}, bad
		}
		return Command{Kind: kind, Args: fields}, nil

	case CmdSetProfile:
		if len(fields) < 3 {
			return Command{}, bad
		}
		return Command{Kind: kind, Args: []string{fields[0], fields[1], strings.Join(fields[2:], " ")}}, nil

	case CmdSetMood:
		if len(fields) < 1 {
			return Command{}, bad
		}
		return Command{Kind: kind, Args: []string{fields[0], strings.Join(fields[1:], " ")}}, nil

	case CmdBroadcast:
		if rest == "" {
			return Command{}, bad
		}
		return Command{Kind: kind, Args: []string{rest}}, nil

	default:
		return Command{Kind: kind}, nil
	}
}
