package main

import "testing"

func TestParseArgs(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		want    cliArgs
		wantErr bool
	}{
		{"no args", nil, cliArgs{}, false},
		{"no-msg", []string{"--no-msg"}, cliArgs{noMsg: true}, false},
		{"debug", []string{"--debug"}, cliArgs{debug: true}, false},
		{"log level", []string{"--log-level", "warn"}, cliArgs{logLevel: "warn"}, false},
		{"log level case folded", []string{"--log-level", "DEBUG"}, cliArgs{logLevel: "debug"}, false},
		{"chat count", []string{"--chat", "250"}, cliArgs{chatCount: 250}, false},
		{"help long", []string{"--help"}, cliArgs{help: true}, false},
		{"help short", []string{"-h"}, cliArgs{help: true}, false},
		{"combined", []string{"--no-msg", "--debug", "--chat", "10"}, cliArgs{noMsg: true, debug: true, chatCount: 10}, false},
		{"single-dash unknown ignored", []string{"-verbose", "--debug"}, cliArgs{debug: true}, false},
		{"double-dash unknown", []string{"--bogus"}, cliArgs{}, true},
		{"log level missing value", []string{"--log-level"}, cliArgs{}, true},
		{"log level invalid", []string{"--log-level", "loud"}, cliArgs{}, true},
		{"chat missing value", []string{"--chat"}, cliArgs{}, true},
		{"chat not a number", []string{"--chat", "many"}, cliArgs{}, true},
		{"chat zero", []string{"--chat", "0"}, cliArgs{}, true},
		{"chat negative", []string{"--chat", "-5"}, cliArgs{}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseArgs(tt.args)
			if (err != nil) != tt.wantErr {
				t.Fatalf("parseArgs(%v) err = %v, wantErr %v", tt.args, err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if got != tt.want {
				t.Errorf("parseArgs(%v) = %+v, want %+v", tt.args, got, tt.want)
			}
		})
	}
}
