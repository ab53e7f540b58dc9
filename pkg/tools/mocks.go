/*
 *   Copyright 2023 Martin Proffitt <mproffitt@choclab.net>
 *
 *  Licensed under the Apache License, Version 2.0 (the "License");
 *  you may not use this file except in compliance with the License.
 *  You may obtain a copy of the License at
 *
 *      http://www.apache.org/licenses/LICENSE-2.0
 *
 *  Unless required by applicable law or agreed to in writing, software
 *  distributed under the License is distributed on an "AS IS" BASIS,
 *  WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 *  See the License for the specific language governing permissions and
 *  limitations under the License.
 */
package tools

import (
	"io"
	"strings"
)

// PinentryReply is a single line read back from a pinentry process
type PinentryReply struct {
	Line []byte
	Err  error
}

// MockPinentry replays a scripted assuan conversation in place of a real
// pinentry binary and records every command sent to it
type MockPinentry struct {
	Prefix   bool
	Replies  []PinentryReply
	Commands []string
	StartErr error
	CloseErr error
	WriteErr error
}

// PinReplies scripts the replies of a pinentry asked for a single pin. When
// err is set the GETPIN request fails with it instead.
func PinReplies(pin string, err error) []PinentryReply {
	if err != nil {
		return []PinentryReply{
			{Line: []byte("OK")},
			{Line: []byte{}, Err: err},
			{Line: []byte("BYE")},
		}
	}
	return []PinentryReply{
		{Line: []byte("OK")},
		{Line: []byte("D " + pin)},
		{Line: []byte("OK")},
		{Line: []byte("BYE")},
	}
}

func (m *MockPinentry) ReadLine() ([]byte, bool, error) {
	if len(m.Replies) == 0 {
		return nil, false, io.EOF
	}
	reply := m.Replies[0]
	m.Replies = m.Replies[1:]
	return reply.Line, m.Prefix, reply.Err
}

func (m *MockPinentry) Start(string, []string) error {
	return m.StartErr
}

func (m *MockPinentry) Close() error {
	return m.CloseErr
}

func (m *MockPinentry) Write(b []byte) (int, error) {
	if m.WriteErr != nil {
		return 0, m.WriteErr
	}
	m.Commands = append(m.Commands, strings.TrimSpace(string(b)))
	return len(b), nil
}
