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
	"context"
	"fmt"

	"github.com/coreos/go-systemd/v22/dbus"
	"github.com/notapipeline/fvault/pkg/logging"
)

// wait blocks until systemd reports the job result
func wait(ctx context.Context, channel chan string) (string, error) {
	select {
	case result := <-channel:
		return result, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// StartService starts the fvault service
func StartService(ctx context.Context, serviceName string) error {
	var (
		channel chan string = make(chan string, 1)
		service string      = fmt.Sprintf("%s.service", serviceName)
		systemd systemdConn
		result  string
		err     error
	)
	if systemd, err = conn(ctx); err != nil {
		return err
	}

	logging.Info(ctx, "starting service", "service", serviceName)
	if _, err = systemd.StartUnitContext(ctx, service, "replace", channel); err != nil {
		return fmt.Errorf("Failed to start %s service: %v", serviceName, err)
	}

	if result, err = wait(ctx, channel); err != nil {
		return err
	}
	logging.Info(ctx, "service started", "service", serviceName, "result", result)
	return nil
}

// StopService stops the fvault service
func StopService(ctx context.Context, serviceName string) error {
	var (
		channel chan string = make(chan string, 1)
		service string      = fmt.Sprintf("%s.service", serviceName)
		systemd systemdConn
		result  string
		err     error
	)
	if systemd, err = conn(ctx); err != nil {
		return err
	}

	logging.Info(ctx, "stopping service", "service", serviceName)
	if _, err = systemd.StopUnitContext(ctx, service, "replace", channel); err != nil {
		return fmt.Errorf("Failed to stop %s service: %v", serviceName, err)
	}

	if result, err = wait(ctx, channel); err != nil {
		return err
	}
	logging.Info(ctx, "service stopped", "service", serviceName, "result", result)
	return nil
}

// ServiceStatus returns the status of the fvault service
func ServiceStatus(ctx context.Context, serviceName string) (string, error) {
	var (
		err      error
		service  string = fmt.Sprintf("%s.service", serviceName)
		statuses []dbus.UnitStatus
		systemd  systemdConn
	)
	if systemd, err = conn(ctx); err != nil {
		return "", err
	}

	if statuses, err = systemd.ListUnitsByNamesContext(ctx, []string{service}); err != nil || len(statuses) == 0 {
		return "", fmt.Errorf("Failed to get service status for %s", serviceName)
	}
	return statuses[0].SubState, nil
}
