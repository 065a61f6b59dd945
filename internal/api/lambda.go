package api

import (
	"context"
	"log/slog"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	"github.com/awslabs/aws-lambda-go-api-proxy/httpadapter"
)

// LambdaHandler adapts the server's routes to Lambda Function URL events.
func (s *Server) LambdaHandler() func(context.Context, events.APIGatewayV2HTTPRequest) (events.APIGatewayV2HTTPResponse, error) {
	return httpadapter.NewV2(s.mux).ProxyWithContext
}

// StartLambda hands control to the Lambda runtime. It does not return.
func (s *Server) StartLambda() {
	slog.Info("Server.StartLambda: running as AWS Lambda function")
	lambda.Start(s.LambdaHandler())
}
