package slicer

import (
	"context"
	"errors"
	"fmt"
	"io"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// SliceMethod is the server-streaming RPC exposed by the slicing engine. Request and response
// frames are google.protobuf.Struct values:
//
//	request:  {format, file (base64), overrides: [{key, value}]}
//	response: {progress: n} ... {result: {gcode_length, metadata: {...}}} | {error: msg}
const SliceMethod = "/slicer.v1.SlicerService/Slice"

var sliceStreamDesc = &grpc.StreamDesc{
	StreamName:    "Slice",
	ServerStreams: true,
}

type GRPCEngine struct {
	conn grpc.ClientConnInterface
}

// NewGRPCEngine streams slice requests over conn.
func NewGRPCEngine(conn grpc.ClientConnInterface) *GRPCEngine {
	return &GRPCEngine{conn: conn}
}

func (e *GRPCEngine) Slice(ctx context.Context, req *EngineRequest, progress func(int)) (*EngineResult, error) {
	msg, err := encodeRequest(req)
	if err != nil {
		return nil, err
	}

	stream, err := e.conn.NewStream(ctx, sliceStreamDesc, SliceMethod)
	if err != nil {
		return nil, fmt.Errorf("failed to open slice stream: %w", err)
	}
	if err := stream.SendMsg(msg); err != nil {
		return nil, fmt.Errorf("failed to send slice request: %w", err)
	}
	if err := stream.CloseSend(); err != nil {
		return nil, fmt.Errorf("failed to close slice request: %w", err)
	}

	var result *EngineResult
	for {
		frame := &structpb.Struct{}
		err := stream.RecvMsg(frame)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("slice stream: %w", err)
		}

		fields := frame.GetFields()
		if v, ok := fields["error"]; ok {
			return nil, fmt.Errorf("engine error: %s", v.GetStringValue())
		}
		if v, ok := fields["progress"]; ok && progress != nil {
			progress(int(v.GetNumberValue()))
		}
		if v, ok := fields["result"]; ok {
			result = decodeResult(v.GetStructValue())
		}
	}

	if result == nil {
		return nil, errors.New("engine closed the stream without a result")
	}
	return result, nil
}

func encodeRequest(req *EngineRequest) (*structpb.Struct, error) {
	overrides := make([]interface{}, len(req.Overrides))
	for i, o := range req.Overrides {
		overrides[i] = map[string]interface{}{"key": o.Key, "value": o.Value}
	}
	msg, err := structpb.NewStruct(map[string]interface{}{
		"format":    req.Format,
		"file":      req.File,
		"overrides": overrides,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode slice request: %w", err)
	}
	return msg, nil
}

func decodeResult(s *structpb.Struct) *EngineResult {
	fields := s.GetFields()
	res := &EngineResult{
		GCodeLength: int(fields["gcode_length"].GetNumberValue()),
	}
	meta := fields["metadata"].GetStructValue()
	if meta == nil {
		return res
	}
	m := meta.GetFields()
	res.Metadata = &Metadata{
		FilamentUsage: m["filament_usage"].GetNumberValue(),
		PrintTime:     m["print_time"].GetNumberValue(),
		Volume:        m["volume"].GetNumberValue(),
		Height:        m["height"].GetNumberValue(),
		Width:         m["width"].GetNumberValue(),
		Depth:         m["depth"].GetNumberValue(),
	}
	return res
}
