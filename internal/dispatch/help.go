package dispatch

import "github.com/fusekv/fusekv/internal/route"

const kvHelp = `Key/Value store via files.

Every file under /kv is one string key. Reading a file returns the value,
writing replaces it, and removing the file deletes the key.

  ls /kv                 list keys (capped by max_results)
  ls /kv:limit=50        list at most 50 keys
  ls /kv:limit=-1        list every key
  cat /kv/greeting       GET greeting
  echo hi > /kv/greeting SET greeting "hi\n"
  echo more >> /kv/x     SETRANGE at the current end of x
  truncate -s 0 /kv/x    SET x ""
  rm /kv/greeting        DEL greeting

Keys of other types are listed as empty files.
`

const rawHelp = `Send raw commands to Redis.

Write a command line to any file under /raw, then read the same file to
get the reply. The command is sent when the file is closed or first read.

  echo 'PING' > /raw/cmd && cat /raw/cmd
  +PONG

  echo 'HSET user:1 name "Jane Doe"' > /raw/cmd && cat /raw/cmd
  :1

Arguments follow redis-cli quoting: single or double quotes group words,
and double quotes understand \n \t \" \\ and \xHH escapes.

Replies are printed one element per line:
  +text   status or string     :n   integer     ,f   double
  $-1     nil                  -err error       #t   boolean
  *n      array of n elements  %n   map of n key/value pairs

Writing to a file that holds a reply starts a new command. Remove the file
with rm when done.
`

func helpText(ns route.Namespace) string {
	if ns == route.NamespaceRaw {
		return rawHelp
	}
	return kvHelp
}
