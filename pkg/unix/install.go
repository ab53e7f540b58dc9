//go:build !windows

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

package unix

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"text/template"

	"github.com/coreos/go-systemd/v22/dbus"
	"github.com/notapipeline/fvault/pkg/logging"
)

const SYSTEMFILE string = `
[Unit]
Description=fvault reference backend

[Service]
Environment="NO_DATELOG=true"
ExecStart={{ .Executable }} serve
ExecReload=/bin/kill -SIGINT "$MAINPID"
Restart=always
RestartSec=10

[Install]
WantedBy=default.target
`

// systemdConn is the part of the systemd dbus api used to manage the unit
type systemdConn interface {
	EnableUnitFilesContext(ctx context.Context, files []string, runtime bool, force bool) (bool, []dbus.EnableUnitFileChange, error)
	DisableUnitFilesContext(ctx context.Context, files []string, runtime bool) ([]dbus.DisableUnitFileChange, error)
	ReloadContext(ctx context.Context) error
	StartUnitContext(ctx context.Context, name string, mode string, ch chan<- string) (int, error)
	StopUnitContext(ctx context.Context, name string, mode string, ch chan<- string) (int, error)
	ListUnitsByNamesContext(ctx context.Context, units []string) ([]dbus.UnitStatus, error)
}

// These are referenced as variables to enable them to be mocked in tests
var (
	connect func(ctx context.Context) (systemdConn, error) = func(ctx context.Context) (systemdConn, error) {
		return dbus.NewUserConnectionContext(ctx)
	}
	executable func() (string, error) = os.Executable
	unitDir    func() string          = func() string {
		home, _ := os.UserHomeDir()
		return filepath.Join(home, ".config", "systemd", "user")
	}
)

var (
	systemd     systemdConn
	systemdLock sync.Mutex
)

// conn opens the user bus the first time it is needed
func conn(ctx context.Context) (systemdConn, error) {
	systemdLock.Lock()
	defer systemdLock.Unlock()

	if systemd == nil {
		c, err := connect(ctx)
		if err != nil {
			return nil, fmt.Errorf("Failed to initialise dbus connection: %w", err)
		}
		systemd = c
	}
	return systemd, nil
}

// UnitFile renders the service unit for the running binary
func UnitFile() (string, error) {
	exe, err := executable()
	if err != nil {
		return "", fmt.Errorf("Unable to locate the fvault binary: %w", err)
	}

	var buf bytes.Buffer
	if err = template.Must(template.New("unit").Parse(SYSTEMFILE)).Execute(&buf, struct {
		Executable string
	}{exe}); err != nil {
		return "", err
	}
	return buf.String(), nil
}

func InstallService(ctx context.Context, serviceName string) error {
	var (
		err         error
		service     string = fmt.Sprintf("%s.service", serviceName)
		servicePath string = filepath.Join(unitDir(), service)
		unit        string
		systemd     systemdConn
	)

	if unit, err = UnitFile(); err != nil {
		return err
	}
	if systemd, err = conn(ctx); err != nil {
		return err
	}

	logging.Info(ctx, "creating service file", "path", servicePath)
	if err = os.MkdirAll(filepath.Dir(servicePath), 0755); err != nil {
		return fmt.Errorf("Unable to create service directory: %v", err)
	}
	if err = os.WriteFile(servicePath, []byte(unit), 0644); err != nil {
		return fmt.Errorf("Unable to write service file: %v", err)
	}

	logging.Info(ctx, "enabling systemd user service and reloading daemon", "service", serviceName)
	if _, _, err = systemd.EnableUnitFilesContext(ctx, []string{service}, false, true); err != nil {
		return fmt.Errorf("Failed to enable the %s service: %v", serviceName, err)
	}

	if err = systemd.ReloadContext(ctx); err != nil {
		return fmt.Errorf("Failed to reload the Daemon: %v", err)
	}

	return nil
}

func RemoveService(ctx context.Context, serviceName string) error {
	var (
		err         error
		service     string = fmt.Sprintf("%s.service", serviceName)
		servicePath string = filepath.Join(unitDir(), service)
		systemd     systemdConn
	)
	if systemd, err = conn(ctx); err != nil {
		return err
	}

	if err = StopService(ctx, serviceName); err != nil {
		return err
	}

	if _, err = systemd.DisableUnitFilesContext(ctx, []string{service}, false); err != nil {
		return fmt.Errorf("Failed to disable the %s service: %v", serviceName, err)
	}

	if err = systemd.ReloadContext(ctx); err != nil {
		return fmt.Errorf("Failed to reload the Daemon: %v", err)
	}
	if err = os.Remove(servicePath); err != nil {
		return fmt.Errorf("Unable to delete service file at %s. %v", servicePath, err)
	}
	return nil
}
