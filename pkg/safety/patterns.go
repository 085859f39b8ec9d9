package safety

// defaultBlockingRules is the ordered table of patterns that always yield a
// blocked classification. Patterns match the normalized (lowercased,
// whitespace-collapsed) command. The table errs toward false positives:
// blocking a safe command is recoverable, executing a destructive one is not.
var defaultBlockingRules = []struct {
	pattern string
	reason  string
}{
	{`\brm\s+(-[a-z]*\s+)*-[a-z]*r[a-z]*f|\brm\s+(-[a-z]*\s+)*-[a-z]*f[a-z]*r`, "recursive forced deletion"},
	{`\brm\s+-r\b`, "recursive deletion"},
	{`\bmkfs(\.[a-z0-9]+)?\b`, "filesystem format"},
	{`\bdd\b.*\bof=/dev/`, "raw write to a block device"},
	{`>\s*/dev/sd[a-z]`, "raw write to a block device"},
	{`\b(shutdown|reboot|halt|poweroff)\b`, "system shutdown or reboot"},
	{`\binit\s+[06]\b`, "system shutdown or reboot"},
	{`\bsystemctl\s+(stop|disable|mask)\b`, "service disruption"},
	{`\bservice\s+\S+\s+stop\b`, "service disruption"},
	{`\bkillall\b`, "mass process termination"},
	{`\btruncate\s+(-[a-z]*\s+)*-?s\s*0\b`, "zero truncation of files"},
	{`:\s*\(\s*\)\s*\{.*\|\s*:\s*&\s*\}`, "fork bomb"},
	{`\bchmod\s+(-[a-z]*\s+)*777\s+/\s*$`, "world-writable root filesystem"},
	{`\biptables\s+(-f|--flush)\b`, "firewall flush"},
	{`\buserdel\b|\bgroupdel\b`, "account deletion"},
	{`\bdrop\s+(database|table)\b`, "database object deletion"},
}

// defaultConfirmRules is the secondary table for risky-but-not-fatal actions.
// Patterns are globs matched against the normalized command.
var defaultConfirmRules = []struct {
	pattern string
	reason  string
}{
	{`sudo *`, "privilege escalation"},
	{`rm *`, "file deletion"},
	{`kill *`, "process termination"},
	{`pkill *`, "process termination"},
	{`systemctl restart *`, "service restart"},
	{`systemctl start *`, "service state change"},
	{`service * restart`, "service restart"},
	{`chmod *`, "permission change"},
	{`chown *`, "ownership change"},
	{`git push --force*`, "forced history rewrite"},
	{`git reset --hard*`, "working tree reset"},
	{`*curl * | *sh*`, "piping a download into a shell"},
	{`*wget * | *sh*`, "piping a download into a shell"},
	{`mv * /*`, "moving files into system paths"},
	{`crontab *`, "scheduled task change"},
}
