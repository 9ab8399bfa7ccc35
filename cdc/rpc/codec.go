// Copyright 2019 PingCAP, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// See the License for the specific language governing permissions and
// limitations under the License.

// Package rpc implements C7, the control plane: status, worker lifecycle
// operations, log retrieval, and the failed-tenants list, all served over
// grpc with a hand-rolled ServiceDesc (no .proto/protoc step) and a JSON
// wire codec in place of generated protobuf marshalling.
package rpc

import (
	"encoding/json"

	"google.golang.org/grpc/encoding"
)

// codecName is registered in place of grpc's default "proto" codec so that
// every grpc.ClientConn/Server on this binary uses JSON without any extra
// per-call configuration.
const codecName = "proto"

// jsonCodec marshals and unmarshals grpc messages as JSON. The request and
// response types in this package are plain structs with json tags; there
// is no protobuf-generated code anywhere in this path.
type jsonCodec struct{}

func (jsonCodec) Marshal(v interface{}) ([]byte, error) {
	return json.Marshal(v)
}

func (jsonCodec) Unmarshal(data []byte, v interface{}) error {
	return json.Unmarshal(data, v)
}

func (jsonCodec) Name() string {
	return codecName
}

func init() {
	encoding.RegisterCodec(jsonCodec{})
}
