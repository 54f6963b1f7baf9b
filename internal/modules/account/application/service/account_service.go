package service

import (
	"context"
	"strings"
	"time"

	"Nexus/internal/modules/account/application/dto/request"
	"Nexus/internal/modules/account/application/dto/respond"
	"Nexus/internal/modules/account/domain/entity"
	"Nexus/internal/modules/account/domain/repository"
	"Nexus/pkg/util/myjwt"
	"Nexus/pkg/xerr"
	"Nexus/pkg/zlog"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

// AccountService 账号注册与登录服务接口
type AccountService interface {
	Register(ctx context.Context, req request.RegisterRequest) (*respond.AccountRespond, error)
	Login(ctx context.Context, req request.LoginRequest) (*respond.AccountRespond, error)
}

type accountServiceImpl struct {
	repo repository.AccountRepository
}

func NewAccountService(repo repository.AccountRepository) AccountService {
	return &accountServiceImpl{repo: repo}
}

func (s *accountServiceImpl) Register(ctx context.Context, req request.RegisterRequest) (*respond.AccountRespond, error) {
	username := strings.TrimSpace(req.Username)
	if username == "" {
		return nil, xerr.Wrap(xerr.ErrParam, "缺少用户名")
	}
	// 1. 用户名查重
	existing, err := s.repo.GetByUsername(ctx, username)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, xerr.New(xerr.BadRequest, "用户已存在")
	}
	// 2. 密码哈希
	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}
	// 3. 建账号
	account := &entity.Account{
		Uuid:      uuid.NewString(),
		Username:  username,
		Nickname:  strings.TrimSpace(req.Nickname),
		Password:  string(hash),
		CreatedAt: time.Now(),
	}
	if err := s.repo.Create(ctx, account); err != nil {
		zlog.Error("account create failed", zap.String("username", username), zap.Error(err))
		return nil, xerr.ErrServerError
	}
	// 4. 直接签发 token，注册即登录
	token, err := myjwt.GenerateToken(account.Uuid, account.Username)
	if err != nil {
		return nil, err
	}
	zlog.Info("account registered", zap.String("uuid", account.Uuid), zap.String("username", username))
	return &respond.AccountRespond{
		Uuid:     account.Uuid,
		Username: account.Username,
		Nickname: account.Nickname,
		Token:    token,
	}, nil
}

func (s *accountServiceImpl) Login(ctx context.Context, req request.LoginRequest) (*respond.AccountRespond, error) {
	username := strings.TrimSpace(req.Username)
	account, err := s.repo.GetByUsername(ctx, username)
	if err != nil {
		return nil, err
	}
	// 账号不存在与密码错误给同一个提示，不泄露存在性
	if account == nil {
		return nil, xerr.New(xerr.Unauthorized, "用户名或密码错误")
	}
	if err := bcrypt.CompareHashAndPassword([]byte(account.Password), []byte(req.Password)); err != nil {
		return nil, xerr.New(xerr.Unauthorized, "用户名或密码错误")
	}
	token, err := myjwt.GenerateToken(account.Uuid, account.Username)
	if err != nil {
		return nil, err
	}
	return &respond.AccountRespond{
		Uuid:     account.Uuid,
		Username: account.Username,
		Nickname: account.Nickname,
		Token:    token,
	}, nil
}
