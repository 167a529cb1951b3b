package cli

import "strings"

// SlashCommand is a parsed "/name arg..." line.
type SlashCommand struct {
	Name string
	Args []string
}

// ParseSlashCommand returns nil when input is not a slash command.
func ParseSlashCommand(input string) *SlashCommand {
	input = strings.TrimSpace(input)
	if !strings.HasPrefix(input, "/") {
		return nil
	}
	fields := strings.Fields(strings.TrimPrefix(input, "/"))
	if len(fields) == 0 {
		return nil
	}
	return &SlashCommand{Name: strings.ToLower(fields[0]), Args: fields[1:]}
}

const helpText = `Commands:
  /connect [kind] <uri>   set the database connection (kind: postgresql, mysql, sqlite, mongodb, other)
  /clear                  clear the conversation
  /copy <n>               print message n for copying
  /history                show the whole conversation
  /status                 show the active connection
  /help                   show this help
  /quit                   exit`
