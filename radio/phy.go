/*
Copyright (c) Facebook, Inc. and its affiliates.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package radio

// MAC is a 6-byte radio peer address.
type MAC [6]byte

// Broadcast is the well-known broadcast peer address.
var Broadcast = MAC{0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF}

// RecvCallback is invoked by the PHY for every inbound datagram. To bound
// jitter, implementations must capture the receive timestamp as their
// first statement and must not block — this callback runs in the PHY's own
// task context.
type RecvCallback func(from MAC, data []byte, rxTimeUS int64)

// SendCallback reports the outcome of a previously submitted send.
type SendCallback func(to MAC, success bool)

// PHY is the external collaborator this package drives: the physical radio
// stack (vendor ESP-NOW equivalent), which is out of scope here —
// this interface is the whole of the contract the core consumes from it.
type PHY interface {
	// Init brings up the PHY and fixes its channel.
	Init(channel uint8) error
	// Channel returns the PHY's current channel.
	Channel() uint8
	// SetChannel forces the PHY back onto channel, used when a coexisting
	// BLE stack has stolen it.
	SetChannel(channel uint8) error
	// AddPeer installs or replaces a peer record. key is nil for an
	// unencrypted peer.
	AddPeer(mac MAC, key []byte) error
	// RemovePeer removes a previously installed peer record.
	RemovePeer(mac MAC) error
	// Send transmits data to mac (which may be Broadcast).
	Send(mac MAC, data []byte) error
	// SetRecvCallback registers the inbound-datagram callback.
	SetRecvCallback(cb RecvCallback)
	// SetSendCallback registers the send-completion callback.
	SetSendCallback(cb SendCallback)
}
