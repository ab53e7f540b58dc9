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
	"net"
	"strings"
)

// ContainsIp returns true if ip is the given address or lies inside the
// given network
func ContainsIp(netw string, ip string) bool {
	var addr net.IP = net.ParseIP(ip)
	if addr == nil {
		return false
	}

	if !strings.Contains(netw, "/") {
		other := net.ParseIP(netw)
		return other != nil && other.Equal(addr)
	}

	_, ipnet, err := net.ParseCIDR(netw)
	if err != nil {
		return false
	}
	return ipnet.Contains(addr)
}

// RemoteIp strips the port from a request remote address
func RemoteIp(remoteAddr string) string {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		return strings.Trim(remoteAddr, "[]")
	}
	return host
}

// Whitelisted reports whether ip is matched by any of the given networks
func Whitelisted(whitelist []string, ip string) bool {
	for _, w := range whitelist {
		if ContainsIp(w, ip) {
			return true
		}
	}
	return false
}
