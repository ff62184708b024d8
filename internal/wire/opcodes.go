/*
Copyright 2024 The SnapDB Authors

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

package wire

// Magic opens every connection; an unknown value is answered with
// UnknownProtocol and the connection closes.
const Magic uint64 = 0x2BA517361121

// Protocol handshake responses.
const (
	KnownProtocol   uint8 = 101
	UnknownProtocol uint8 = 102
)

// AuthMode selects the authentication sub-protocol after the
// handshake.
type AuthMode uint8

const (
	AuthNone          AuthMode = 1
	AuthSRP           AuthMode = 2
	AuthSCRAM         AuthMode = 3
	AuthIntegrated    AuthMode = 4
	AuthCertificate   AuthMode = 5
	AuthResumeSession AuthMode = 255
)

// RootCommand is a command byte valid in the root state.
type RootCommand uint8

const (
	CmdGetAllDatabases   RootCommand = 1
	CmdConnectToDatabase RootCommand = 2
	CmdDisconnect        RootCommand = 3
)

// DatabaseCommand is a command byte valid in the database state.
type DatabaseCommand uint8

const (
	CmdSetEncodingMethod  DatabaseCommand = 4
	CmdRead               DatabaseCommand = 5
	CmdWrite              DatabaseCommand = 6
	CmdCancelRead         DatabaseCommand = 7
	CmdDisconnectDatabase DatabaseCommand = 8
)

// Response is a server response byte.
type Response uint8

const (
	RespListOfDatabases                 Response = 1
	RespConnectedToRoot                 Response = 2
	RespSuccessfullyConnectedToDatabase Response = 3
	RespDatabaseDoesNotExist            Response = 4
	RespDatabaseKeyUnknown              Response = 5
	RespDatabaseValueUnknown            Response = 6
	RespUnknownEncodingMethod           Response = 7
	RespEncodingMethodAccepted          Response = 8
	RespSerializingPoints               Response = 9
	RespReadComplete                    Response = 10
	RespCanceledRead                    Response = 11
	RespErrorWhileReading               Response = 12
	RespUnknownOrCorruptSeekFilter      Response = 13
	RespUnknownOrCorruptMatchFilter     Response = 14
	RespUnknownOrCorruptReaderOptions   Response = 15
	RespDatabaseDisconnected            Response = 16
	RespGoodBye                         Response = 17
	RespUnknownCommand                  Response = 18
	RespUnknownDatabaseCommand          Response = 19
	RespUnhandledException              Response = 20
)

func (r Response) String() string {
	switch r {
	case RespListOfDatabases:
		return "ListOfDatabases"
	case RespConnectedToRoot:
		return "ConnectedToRoot"
	case RespSuccessfullyConnectedToDatabase:
		return "SuccessfullyConnectedToDatabase"
	case RespDatabaseDoesNotExist:
		return "DatabaseDoesNotExist"
	case RespDatabaseKeyUnknown:
		return "DatabaseKeyUnknown"
	case RespDatabaseValueUnknown:
		return "DatabaseValueUnknown"
	case RespUnknownEncodingMethod:
		return "UnknownEncodingMethod"
	case RespEncodingMethodAccepted:
		return "EncodingMethodAccepted"
	case RespSerializingPoints:
		return "SerializingPoints"
	case RespReadComplete:
		return "ReadComplete"
	case RespCanceledRead:
		return "CanceledRead"
	case RespErrorWhileReading:
		return "ErrorWhileReading"
	case RespUnknownOrCorruptSeekFilter:
		return "UnknownOrCorruptSeekFilter"
	case RespUnknownOrCorruptMatchFilter:
		return "UnknownOrCorruptMatchFilter"
	case RespUnknownOrCorruptReaderOptions:
		return "UnknownOrCorruptReaderOptions"
	case RespDatabaseDisconnected:
		return "DatabaseDisconnected"
	case RespGoodBye:
		return "GoodBye"
	case RespUnknownCommand:
		return "UnknownCommand"
	case RespUnknownDatabaseCommand:
		return "UnknownDatabaseCommand"
	case RespUnhandledException:
		return "UnhandledException"
	}
	return "Unknown"
}
