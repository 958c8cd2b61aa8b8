package grpc

import (
	"context"
	"errors"
	"strconv"

	"potluck/chat-service/internal/models"
	"potluck/chat-service/internal/service"

	"github.com/sirupsen/logrus"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/timestamppb"

	pb "github.com/kegazani/metachat-proto/chat"
)

// MessageSender persists and broadcasts a message. realtime.Gateway
// satisfies it so gRPC senders reach live subscribers too.
type MessageSender interface {
	Deliver(ctx context.Context, chatID, senderID, content string) (*models.Message, *models.Chat, error)
}

type ChatServer struct {
	pb.UnimplementedChatServiceServer
	service service.ChatService
	sender  MessageSender
	logger  *logrus.Logger
}

func NewChatServer(svc service.ChatService, sender MessageSender, logger *logrus.Logger) *ChatServer {
	return &ChatServer{
		service: svc,
		sender:  sender,
		logger:  logger,
	}
}

func (s *ChatServer) CreateChat(ctx context.Context, req *pb.CreateChatRequest) (*pb.CreateChatResponse, error) {
	s.logger.WithFields(logrus.Fields{
		"user_id1": req.UserId1,
		"user_id2": req.UserId2,
	}).Info("Creating chat via gRPC")

	chat, err := s.service.CreateChat(ctx, req.UserId1, req.UserId2)
	if err != nil {
		return nil, s.toStatus(err, "failed to create chat")
	}

	return &pb.CreateChatResponse{
		Chat: chatToProto(chat),
	}, nil
}

func (s *ChatServer) GetChat(ctx context.Context, req *pb.GetChatRequest) (*pb.GetChatResponse, error) {
	s.logger.WithField("chat_id", req.ChatId).Info("Getting chat via gRPC")

	chat, err := s.service.GetChat(ctx, req.ChatId)
	if err != nil {
		return nil, s.toStatus(err, "failed to get chat")
	}

	return &pb.GetChatResponse{
		Chat: chatToProto(chat),
	}, nil
}

func (s *ChatServer) GetUserChats(ctx context.Context, req *pb.GetUserChatsRequest) (*pb.GetUserChatsResponse, error) {
	s.logger.WithField("user_id", req.UserId).Info("Getting user chats via gRPC")

	chats, err := s.service.GetUserChats(ctx, req.UserId)
	if err != nil {
		return nil, s.toStatus(err, "failed to get user chats")
	}

	protoChats := make([]*pb.Chat, len(chats))
	for i, c := range chats {
		protoChats[i] = chatToProto(c)
	}

	return &pb.GetUserChatsResponse{
		Chats: protoChats,
	}, nil
}

func (s *ChatServer) SendMessage(ctx context.Context, req *pb.SendMessageRequest) (*pb.SendMessageResponse, error) {
	s.logger.WithFields(logrus.Fields{
		"chat_id":   req.ChatId,
		"sender_id": req.SenderId,
	}).Info("Sending message via gRPC")

	msg, _, err := s.sender.Deliver(ctx, req.ChatId, req.SenderId, req.Content)
	if err != nil {
		return nil, s.toStatus(err, "failed to send message")
	}

	return &pb.SendMessageResponse{
		Message: messageToProto(msg),
	}, nil
}

// GetChatMessages treats BeforeMessageId as the seq of the oldest message
// the caller already holds.
func (s *ChatServer) GetChatMessages(ctx context.Context, req *pb.GetChatMessagesRequest) (*pb.GetChatMessagesResponse, error) {
	s.logger.WithField("chat_id", req.ChatId).Info("Getting chat messages via gRPC")

	var before int64
	if req.BeforeMessageId != "" {
		n, err := strconv.ParseInt(req.BeforeMessageId, 10, 64)
		if err != nil || n < 0 {
			return nil, status.Errorf(codes.InvalidArgument, "before_message_id must be a message seq")
		}
		before = n
	}

	messages, err := s.service.GetChatMessages(ctx, req.ChatId, int(req.Limit), before)
	if err != nil {
		return nil, s.toStatus(err, "failed to get chat messages")
	}

	protoMessages := make([]*pb.Message, len(messages))
	for i, m := range messages {
		protoMessages[i] = messageToProto(m)
	}

	return &pb.GetChatMessagesResponse{
		Messages: protoMessages,
	}, nil
}

func (s *ChatServer) MarkMessagesAsRead(ctx context.Context, req *pb.MarkMessagesAsReadRequest) (*pb.MarkMessagesAsReadResponse, error) {
	s.logger.WithFields(logrus.Fields{
		"chat_id": req.ChatId,
		"user_id": req.UserId,
	}).Info("Marking messages as read via gRPC")

	count, err := s.service.MarkMessagesAsRead(ctx, req.ChatId, req.UserId)
	if err != nil {
		return nil, s.toStatus(err, "failed to mark messages as read")
	}

	return &pb.MarkMessagesAsReadResponse{
		MarkedCount: int32(count),
	}, nil
}

func (s *ChatServer) toStatus(err error, msg string) error {
	code := codeOf(err)
	entry := s.logger.WithError(err).WithField("code", code.String())
	if code == codes.Internal || code == codes.Unavailable {
		entry.Error(msg)
	} else {
		entry.Warn(msg)
	}
	return status.Errorf(code, "%s: %v", msg, err)
}

func codeOf(err error) codes.Code {
	switch {
	case errors.Is(err, models.ErrChatNotFound), errors.Is(err, models.ErrParticipantUnresolvable):
		return codes.NotFound
	case errors.Is(err, models.ErrNotParticipant):
		return codes.PermissionDenied
	case errors.Is(err, models.ErrInvalidContent), errors.Is(err, models.ErrSelfChat):
		return codes.InvalidArgument
	case errors.Is(err, models.ErrTransientStorage):
		return codes.Unavailable
	case errors.Is(err, context.DeadlineExceeded):
		return codes.DeadlineExceeded
	case errors.Is(err, context.Canceled):
		return codes.Canceled
	}
	return codes.Internal
}

func chatToProto(chat *models.Chat) *pb.Chat {
	return &pb.Chat{
		Id:        chat.ID,
		UserId1:   chat.UserID1,
		UserId2:   chat.UserID2,
		CreatedAt: timestamppb.New(chat.CreatedAt),
		UpdatedAt: timestamppb.New(chat.UpdatedAt),
	}
}

func messageToProto(msg *models.Message) *pb.Message {
	protoMsg := &pb.Message{
		Id:        msg.ID,
		ChatId:    msg.ChatID,
		SenderId:  msg.SenderID,
		Content:   msg.Content,
		CreatedAt: timestamppb.New(msg.CreatedAt),
	}

	if msg.ReadAt != nil {
		protoMsg.ReadAt = timestamppb.New(*msg.ReadAt)
	}

	return protoMsg
}
